package logger

// Level defines the logging level.
type Level int

const (
	// LevelDisabled means logging is turned off for a namespace.
	LevelDisabled Level = iota

	// LevelError logs only errors.
	LevelError

	// LevelWarn logs warnings and errors.
	LevelWarn

	// LevelInfo logs info, warnings and errors.
	LevelInfo

	// LevelDebug logs everything except trace messages.
	LevelDebug

	// LevelTrace logs everything.
	LevelTrace
)

const (
	levelDisabledString = "disabled"
	levelErrorString    = "error"
	levelWarnString     = "warn"
	levelInfoString     = "info"
	levelDebugString    = "debug"
	levelTraceString    = "trace"
	levelUnknownString  = "unknown"
)

// String returns a string representation of Level.
func (l Level) String() string {
	switch l {
	case LevelDisabled:
		return levelDisabledString
	case LevelError:
		return levelErrorString
	case LevelWarn:
		return levelWarnString
	case LevelInfo:
		return levelInfoString
	case LevelDebug:
		return levelDebugString
	case LevelTrace:
		return levelTraceString
	default:
		return levelUnknownString
	}
}

// LevelFromString parses a Level from its string representation. The second
// return value is false when the string does not name a known level.
func LevelFromString(str string) (Level, bool) {
	switch str {
	case levelDisabledString:
		return LevelDisabled, true
	case levelErrorString:
		return LevelError, true
	case levelWarnString:
		return LevelWarn, true
	case levelInfoString:
		return LevelInfo, true
	case levelDebugString:
		return LevelDebug, true
	case levelTraceString:
		return LevelTrace, true
	default:
		return LevelDisabled, false
	}
}
