package lifecycle

import "time"

// ShutdownReport describes how a service shut down.
type ShutdownReport struct {
	// Completed lists tasks (component/task) that reached a terminal state.
	Completed []string
	// Abandoned lists tasks still running when the deadline elapsed.
	Abandoned []string
	// Cause is the primary fatal cause, nil for a requested stop.
	Cause error
	// Secondary holds fatal causes and teardown errors recorded after Cause.
	Secondary []error
	// Duration is the time spent stopping.
	Duration time.Duration
}

// Clean reports whether the service stopped on request with every task exited.
func (r *ShutdownReport) Clean() bool {
	return r.Cause == nil && len(r.Abandoned) == 0
}

// Err returns the error that best classifies the shutdown: the primary cause,
// otherwise a ShutdownTimeout if tasks were abandoned, otherwise nil.
func (r *ShutdownReport) Err() error {
	if r.Cause != nil {
		return r.Cause
	}
	if len(r.Abandoned) > 0 {
		abandoned := make([]string, len(r.Abandoned))
		copy(abandoned, r.Abandoned)
		return &Error{Kind: KindShutdownTimeout, Abandoned: abandoned}
	}
	return nil
}
