/*
Package log provides structured logging for storeforge using zerolog.

The package keeps one global Logger, configured once at startup through
Init, and hands out child loggers that carry a fixed field:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("reconciler")
	logger.Info().
		Str("store_id", rec.ID).
		Str("from", string(rec.Status)).
		Str("to", string(next)).
		Msg("Store transitioned")

Console output is the default and is meant for development; JSON output is
meant for log shippers. The global level is applied through
zerolog.SetGlobalLevel so it also affects child loggers created before Init.

Until Init is called the Logger writes JSON to stderr, which keeps tests and
library callers quiet enough without extra setup.
*/
package log
