/*
Package daemon is the long-running core: it opens the queue, ledger, cache,
and local KV, wires the router, dispatcher, approval gate, operator channel,
and threat monitor, and drives the heartbeat loop.

Startup order: crash-resume sweep (running jobs back to pending), Telegram
long-poll, monitor, heartbeat. Each pending job gets a worker goroutine
gated by a buffered-channel semaphore (MAX_CONCURRENT); a claimed set stops
a job from double-spawning between the enqueue and the running mark. Once
mode drains the queue and returns instead of looping.

Shutdown: stop the monitor, drain the approval gate, wait for workers with
a 30-second grace period, send a best-effort offline notice, then close the
stores.
*/
package daemon
