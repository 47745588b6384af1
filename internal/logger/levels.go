package logger

// ValidLogLevels is the set of level strings configuration accepts (each one
// NewLogger parses), exported so configuration validation can reject bad
// input before any logger is built.
var ValidLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}
