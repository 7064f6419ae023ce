// Package log provides the leveled logging interface used across graphlocal.
//
// Components never log through package globals. They receive a Logger through
// their constructor or options, which keeps tests quiet (NoOpLogger) and lets
// the server pick the level from configuration.
//
// # Log Levels
//
// The package supports five log levels, in order of increasing severity:
//
//   - LogLevelDebug: request tracing and per-node details
//   - LogLevelInfo: startup, registration and shutdown messages
//   - LogLevelWarn: registry overwrites, missing graphs, empty turns
//   - LogLevelError: degraded node failures and stream errors
//   - LogLevelNone: disables all logging output
//
// ParseLevel maps the LOG_LEVEL configuration value onto these levels.
//
// # golog backend
//
// GologLogger adapts a kataras/golog instance to the Logger interface:
//
//	logger := log.New(log.LogLevelInfo, os.Stderr)
//	logger.Info("listening on %s", addr)
//
// An existing golog instance can be wrapped as well:
//
//	g := golog.New()
//	g.SetTimeFormat("15:04:05")
//	logger := log.NewGologLogger(g)
//	logger.SetLevel(log.LogLevelDebug)
package log
