/*
Package log provides structured logging for HexClaw using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level.

# Usage

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Simple logging:

	log.Info("daemon started")
	log.Warn("cache backend unreachable, degrading to miss")

Component loggers:

	dispatchLog := log.WithComponent("dispatch")
	dispatchLog.Info().Str("job_id", job.ID).Msg("job started")

Job-scoped loggers:

	jobLog := log.WithJobID(job.ID)
	jobLog.Error().Err(err).Msg("step failed")

Every long-lived component (daemon, dispatcher, monitor, router, cache, bot)
logs through a component-scoped child logger. Deliberately swallowed errors,
such as ledger write failures, cache degradation, and notifier failures, are
still logged at Warn/Error with fields so operators can see them.
*/
package log
