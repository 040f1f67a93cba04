/*
Package metrics provides Prometheus metrics collection and exposition.

All metrics are registered on the default registry at package init and
exposed over HTTP when METRICS_ADDR is set. Counters are incremented at
the call sites that own the event (router for model calls and tokens,
cache for lookups, dispatcher for steps and tool calls, monitor for
alerts, approval gate for resolutions); gauges that need polling (queue
depth, active jobs) are sampled by the Collector every 15 seconds.

# Metric Categories

	Jobs: terminal counts by status, active gauge, queue depth
	Steps: executed skill steps by outcome
	Cache: lookups by result (exact_hit, semantic_hit, miss, bypass)
	Models: calls by provider/tier/outcome, latency, tokens in/out
	Tools: calls by tool/outcome, latency
	Monitor: alerts by severity
	Approvals: resolutions by outcome

# Health Endpoints

Serve also mounts /health (all registered components), /ready (critical
components only: queue, dispatcher) and /live. Optional subsystems such
as the cache or the operator channel report through /health but never
block readiness.

# Usage

	srv := metrics.Serve(":9135")
	defer srv.Shutdown(ctx)

	timer := metrics.NewTimer()
	// ... call the tool ...
	timer.ObserveDurationVec(metrics.ToolLatency, "nmap")
	metrics.ToolCalls.WithLabelValues("nmap", "ok").Inc()
*/
package metrics
