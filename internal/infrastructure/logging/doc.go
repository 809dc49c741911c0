// Package logging provides structured logging for Hearth Core.
//
// It wraps the standard library's log/slog with configuration-driven setup
// (level, format, destination) and default service attributes. Components
// receive a child logger via With():
//
//	log := logging.New(cfg.Logging, version)
//	engineLog := log.With("component", "command-engine")
package logging
