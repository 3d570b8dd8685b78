package dali

import (
	"encoding/json"
	"fmt"
	"reflect"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/golang/glog"
)

// runs `do` and recovers any panic. Handlers may be `func()` or `func(error)`
// and are called with the recovered value.
func HandleError(do func(), handlers ...any) (r any) {
	defer func() {
		if r = recover(); r != nil {
			glog.Errorf("Unexpected error: %s\n", ErrorJson(r, debug.Stack()))
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%s", r)
			}
			for _, handler := range handlers {
				switch v := handler.(type) {
				case func():
					v()
				case func(error):
					v(err)
				}
			}
		}
	}()
	do()
	return
}

func ErrorJson(err any, stack []byte) string {
	stackLines := []string{}
	for _, line := range strings.Split(string(stack), "\n") {
		stackLines = append(stackLines, strings.TrimSpace(line))
	}
	errorJson, _ := json.Marshal(map[string]any{
		"error": fmt.Sprintf("%T=%s", err, err),
		"stack": stackLines,
	})
	return string(errorJson)
}

func TraceWithReturnError[R any](tag string, do func() (R, error)) (result R, returnErr error) {
	if !glog.V(LogLevelTrace) {
		return do()
	}
	start := time.Now()
	glog.Infof("[%-8s]%s\n", "start", tag)
	result, returnErr = do()
	millis := float32(time.Since(start)) / float32(time.Millisecond)
	if returnErr != nil {
		glog.Infof("[%-8s]%s (%.2fms) err = %s\n", "end", tag, millis, returnErr)
	} else {
		glog.Infof("[%-8s]%s (%.2fms)\n", "end", tag, millis)
	}
	return
}

func CallbackName(f any) string {
	return runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()
}

func sprintf(format string, a ...any) string {
	if len(a) == 0 {
		return format
	}
	return fmt.Sprintf(format, a...)
}
