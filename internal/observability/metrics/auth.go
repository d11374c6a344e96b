package metrics

import (
	"time"

	obserrors "github.com/gatherhq/gather-ui-api/internal/observability/errors"
	"github.com/gatherhq/gather-ui-api/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess  = "success"
	ResultError    = "error"
	ResultFallback = "fallback"
	ResultTimeout  = "timeout"
	ResultNoop     = "noop"
)

// ResolveMetric captures details about a profile resolution for emission.
type ResolveMetric struct {
	Result   string
	Source   string // "row", "synthesized", "best_effort"
	Duration time.Duration
	Err      error
}

// EmitResolve emits standardised profile-resolution metrics.
func EmitResolve(sink statsd.Sink, in ResolveMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"result": in.Result,
		"source": in.Source,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("identity.resolve", 1, tags)

	if in.Duration > 0 {
		sink.Timing("identity.resolve.duration", in.Duration, CloneTags(tags))
	}
}

// AwaitMetric captures details about one bounded identity wait.
type AwaitMetric struct {
	Result   string
	Attempts int
	Duration time.Duration
}

// EmitAwait emits metrics for a bounded identity wait.
func EmitAwait(sink statsd.Sink, in AwaitMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{"result": in.Result}
	sink.Count("identity.await", 1, tags)
	sink.Gauge("identity.await.attempts", float64(in.Attempts), CloneTags(tags))

	if in.Duration > 0 {
		sink.Timing("identity.await.duration", in.Duration, CloneTags(tags))
	}
}

// EmitIntentConsumed counts a consumed pending intent by kind and source.
func EmitIntentConsumed(sink statsd.Sink, kind, source string) {
	if sink == nil {
		return
	}
	sink.Count("intent.consumed", 1, map[string]string{
		"kind":   kind,
		"source": source,
	})
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
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
