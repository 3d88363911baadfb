package sdk

import (
	"runtime/debug"

	"github.com/acmxim/envoy/pkg/logger"
)

func init() {
	// Include every goroutine in crash output.
	debug.SetTraceback("all")
}

func logPanic(context string, value interface{}) {
	logger.Errorf("GO PANIC: %s: %v\n%s", context, value, debug.Stack())
}
