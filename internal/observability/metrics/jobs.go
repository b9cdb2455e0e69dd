// Package metrics standardises the metric names and tags emitted for job
// lifecycle events.
package metrics

import (
	"time"

	apperrors "github.com/mobiletester/mt-api/internal/errors"

	"github.com/mobiletester/mt-api/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Transition constants for metric tagging, one per state-machine edge.
const (
	TransitionSubmit   = "submit"
	TransitionBegin    = "begin"
	TransitionPoll     = "poll"
	TransitionComplete = "complete"
	TransitionFail     = "fail"
	TransitionCancel   = "cancel"
	TransitionDelete   = "delete"
	TransitionReap     = "reap"
)

// JobMetric captures one job lifecycle event for emission.
type JobMetric struct {
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits the standard counter (and timing, when a duration is
// known) for a lifecycle event. A nil sink is a no-op.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"transition": in.Transition,
		"result":     in.Result,
	}
	if in.Err != nil && in.Result == ResultError {
		tags["error_code"] = string(apperrors.GetCode(in.Err))
	}

	sink.Count("job.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
