// Package crashhook installs the process-wide crash-diagnostics hook.
//
// The hook sits in front of whatever fatal handling was in place before it:
// on an unrecovered panic it emits one structured diagnostic record (message,
// backtrace, originating source location), increments the panic counter, and
// then delegates to the previous handler. The default previous handler
// re-raises the panic so the runtime's termination behavior is unchanged.
//
// Logging must be initialized before Install so the diagnostic record has
// somewhere to go.
package crashhook

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/engramdb/engram/internal/logger"
	"github.com/engramdb/engram/pkg/metrics"
)

// PanicInfo carries the diagnostics captured at the moment of a panic.
type PanicInfo struct {
	// Value is the recovered panic value.
	Value any
	// Stack is the full backtrace of the panicking goroutine.
	Stack []byte
	// File and Line locate the panic site when it could be resolved.
	File string
	Line int
}

// Handler consumes panic diagnostics. The handler chain always ends in the
// default handler, which re-raises the panic.
type Handler func(info *PanicInfo)

var (
	installOnce sync.Once

	mu      sync.RWMutex
	handler Handler = defaultHandler
)

// defaultHandler re-raises so the runtime prints its usual report and the
// process dies with a non-zero status.
func defaultHandler(info *PanicInfo) {
	panic(info.Value)
}

// Install chains the diagnostics handler in front of the currently installed
// one. Only the first call has any effect; installing twice does not stack a
// second diagnostics pass.
func Install() {
	installOnce.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		prev := handler
		handler = func(info *PanicInfo) {
			diagnose(info)
			prev(info)
		}
	})
}

func diagnose(info *PanicInfo) {
	if info.File != "" {
		logger.Error("panic",
			"message", fmt.Sprint(info.Value),
			"backtrace", string(info.Stack),
			"panic.file", info.File,
			"panic.line", info.Line,
		)
	} else {
		logger.Error("panic",
			"message", fmt.Sprint(info.Value),
			"backtrace", string(info.Stack),
		)
	}
	metrics.PanicTotal.Inc()
}

// Recover is the deferred entry point guarding a goroutine:
//
//	defer crashhook.Recover()
//
// It recovers a pending panic, runs the handler chain, and (through the
// default handler) re-panics.
func Recover() {
	if r := recover(); r != nil {
		Handle(r)
	}
}

// Handle dispatches an already-recovered panic value through the handler
// chain. Exposed separately from Recover for callers that need to run their
// own cleanup between recover() and the diagnostics.
func Handle(recovered any) {
	if recovered == nil {
		return
	}

	info := &PanicInfo{
		Value: recovered,
		Stack: debug.Stack(),
	}
	if file, line, ok := panicOrigin(); ok {
		info.File = file
		info.Line = line
	}

	mu.RLock()
	h := handler
	mu.RUnlock()
	h(info)
}

// panicOrigin walks the call stack for the frame that raised the pending
// panic: the first non-runtime frame after runtime.gopanic.
func panicOrigin() (string, int, bool) {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	seenGopanic := false
	for {
		frame, more := frames.Next()
		switch {
		case frame.Function == "runtime.gopanic":
			seenGopanic = true
		case seenGopanic && !strings.HasPrefix(frame.Function, "runtime."):
			return frame.File, frame.Line, true
		}
		if !more {
			return "", 0, false
		}
	}
}
