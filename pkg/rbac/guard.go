package rbac

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Authorizer answers the existence questions the guard asks. *Resolver implements it.
type Authorizer interface {
	UserHasPermission(ctx context.Context, userID string, resource Resource, action Action) (bool, error)
	UserHasResourcePermission(ctx context.Context, userID string, resource Resource) (bool, error)
	UserHasAnyPermission(ctx context.Context, userID string) (bool, error)
}

// Guard checks names reported to metrics and logs
const (
	CheckPermission = "permission"
	CheckResource   = "resource"
	CheckDashboard  = "dashboard"
)

// Guard is a boolean authorization predicate. It fails closed: any error
// while resolving is logged and treated as a denial.
type Guard struct {
	authz   Authorizer
	log     logrus.FieldLogger
	metrics Recorder
}

// NewGuard creates a new guard. log and metrics may be nil.
func NewGuard(authz Authorizer, log logrus.FieldLogger, metrics Recorder) *Guard {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Guard{authz: authz, log: log, metrics: metrics}
}

// HasPermission reports whether the user may perform action on resource
func (g *Guard) HasPermission(ctx context.Context, userID string, resource Resource, action Action) bool {
	userID = NormalizeUserID(userID)
	if userID == "" || !resource.Valid() || !action.Valid() {
		return g.decide(CheckPermission, false)
	}

	ctx, span := startSpan(ctx, "rbac.Guard.HasPermission",
		attribute.String("rbac.user_id", userID),
		attribute.String("rbac.permission", PermissionKey(resource, action)))
	defer span.End()

	allowed, err := g.authz.UserHasPermission(ctx, userID, resource, action)
	if err != nil {
		g.fail(CheckPermission, err, logrus.Fields{
			"user_id":  userID,
			"resource": resource,
			"action":   action,
		})
		return false
	}
	span.SetAttributes(attribute.Bool("rbac.allowed", allowed))
	return g.decide(CheckPermission, allowed)
}

// HasAnyPermissionForResource reports whether the user holds any permission on resource
func (g *Guard) HasAnyPermissionForResource(ctx context.Context, userID string, resource Resource) bool {
	userID = NormalizeUserID(userID)
	if userID == "" || !resource.Valid() {
		return g.decide(CheckResource, false)
	}

	ctx, span := startSpan(ctx, "rbac.Guard.HasAnyPermissionForResource",
		attribute.String("rbac.user_id", userID),
		attribute.String("rbac.resource", string(resource)))
	defer span.End()

	allowed, err := g.authz.UserHasResourcePermission(ctx, userID, resource)
	if err != nil {
		g.fail(CheckResource, err, logrus.Fields{
			"user_id":  userID,
			"resource": resource,
		})
		return false
	}
	span.SetAttributes(attribute.Bool("rbac.allowed", allowed))
	return g.decide(CheckResource, allowed)
}

// HasDashboardAccess reports whether the user holds any permission at all
func (g *Guard) HasDashboardAccess(ctx context.Context, userID string) bool {
	userID = NormalizeUserID(userID)
	if userID == "" {
		return g.decide(CheckDashboard, false)
	}

	ctx, span := startSpan(ctx, "rbac.Guard.HasDashboardAccess", attribute.String("rbac.user_id", userID))
	defer span.End()

	allowed, err := g.authz.UserHasAnyPermission(ctx, userID)
	if err != nil {
		g.fail(CheckDashboard, err, logrus.Fields{"user_id": userID})
		return false
	}
	span.SetAttributes(attribute.Bool("rbac.allowed", allowed))
	return g.decide(CheckDashboard, allowed)
}

// Can is HasPermission for a permission key such as "posts.update"
func (g *Guard) Can(ctx context.Context, userID, key string) bool {
	resource, action, err := ParsePermissionKey(key)
	if err != nil {
		return g.decide(CheckPermission, false)
	}
	return g.HasPermission(ctx, userID, resource, action)
}

func (g *Guard) decide(check string, allowed bool) bool {
	g.metrics.RecordDecision(check, allowed)
	return allowed
}

func (g *Guard) fail(check string, err error, fields logrus.Fields) {
	g.metrics.RecordGuardError(check)
	g.metrics.RecordDecision(check, false)
	g.log.WithError(err).WithFields(fields).WithField("check", check).Error("authorization check failed, denying")
}
