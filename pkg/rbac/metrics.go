package rbac

import "time"

// Recorder receives RBAC measurements. observability.Metrics implements it.
type Recorder interface {
	RecordDecision(check string, allowed bool)
	RecordGuardError(check string)
	RecordLinkChange(operation string, count int)
	ObserveResolve(duration time.Duration)
	RecordCacheLookup(hit bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordDecision(string, bool) {}
func (nopRecorder) RecordGuardError(string) {}
func (nopRecorder) RecordLinkChange(string, int) {}
func (nopRecorder) ObserveResolve(time.Duration) {}
func (nopRecorder) RecordCacheLookup(bool) {}
