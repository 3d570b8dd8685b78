package dali

import (
	"github.com/golang/glog"
)

// Logging convention in the `dali` package:
// Info:
//     abnormal events only. This level should be silent on normal operation.
//     this includes:
//     - channel authentication rejected
//     - transport errors and reconnects
//     - list elements dropped because they could not be decoded or resolved
// Error:
//     unexpected panics in listener callbacks, even if recovered
// V(1):
//     channel lifecycle (open, authenticated, close, suspend, resume)
// V(2):
//     per message trace (dispatch, fetch)
//
// Messages are prefixed with the component tag, e.g. `[channel]`, `[ws]`, `[resolve]`, `[api]`.

const (
	LogLevelLifecycle glog.Level = 1
	LogLevelTrace     glog.Level = 2
)

type LogFunction func(format string, a ...any)

// a tagged log function at the given verbosity
func LogFn(level glog.Level, tag string) LogFunction {
	return func(format string, a ...any) {
		if glog.V(level) {
			glog.InfoDepth(1, "["+tag+"]"+sprintf(format, a...))
		}
	}
}
