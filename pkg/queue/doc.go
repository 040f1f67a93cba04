// Package queue is the durable job queue backing the daemon.
//
// Jobs live in a single SQLite file and move through the lifecycle
// pending -> running -> done|failed|cancelled. The one mutation the queue
// performs on its own is the crash-resume sweep: at startup, rows left in
// running from a previous lifetime are re-marked pending so the daemon picks
// them up again.
package queue
