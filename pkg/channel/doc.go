// Package channel is the operator-facing side of the daemon.
//
// It holds the abstract chat Transport, its Telegram implementation (single
// allowlisted chat, long-poll updates, inline keyboards), the command router
// that maps operator verbs to core entry points, and the Notifier facade the
// rest of the system uses for one-way progress messages.
package channel
