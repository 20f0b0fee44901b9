package test

import "github.com/bleq/bleq/client/logger"

// NewLogger returns a logger configured from the BLEQ_LOG environment
// variable, e.g. BLEQ_LOG=bleq:scheduler:trace.
func NewLogger() logger.Logger {
	return logger.NewFromEnv("BLEQ_LOG")
}
