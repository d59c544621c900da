package logger

import "go.uber.org/zap/zapcore"

// Verbosity level constants for CLI flag counts.
const (
	VerbosityDefault = 0 // No flags: info, warnings and errors
	VerbosityDebug   = 1 // -v: + per-entry dispatch decisions
	VerbosityTrace   = 2 // -vv: + SQL and worker process details
)

// VerbosityToLevel maps verbosity flags (-v, -vv) to zap log levels.
// A daemon logs its cycle at info by default, unlike an interactive CLI.
func VerbosityToLevel(verbosity int) zapcore.Level {
	if verbosity <= VerbosityDefault {
		return zapcore.InfoLevel
	}
	return zapcore.DebugLevel
}

// ShouldLogTrace returns true for verbosity >= 2 (-vv)
func ShouldLogTrace(verbosity int) bool {
	return verbosity >= VerbosityTrace
}

// ResolveLevel combines the -v flag count with the APP_DEBUG setting.
func ResolveLevel(verbosity int, appDebug bool) zapcore.Level {
	if appDebug {
		return zapcore.DebugLevel
	}
	return VerbosityToLevel(verbosity)
}
