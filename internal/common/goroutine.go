// -----------------------------------------------------------------------
// Task Group - panic-protected, tracked goroutines
// -----------------------------------------------------------------------

package common

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/ternarybob/arbor"
)

// goroutineCounter tracks spawned goroutines for diagnostics
var goroutineCounter int64

// GetGoroutineCount returns the number of goroutines spawned via a TaskGroup
func GetGoroutineCount() int64 {
	return atomic.LoadInt64(&goroutineCounter)
}

// PanicHandler receives the recovered value and stack of a panicking goroutine
type PanicHandler func(recovered interface{}, stack string)

// TaskGroup runs named background tasks with panic recovery and lets the owner
// wait for all of them to finish during shutdown.
type TaskGroup struct {
	logger arbor.ILogger
	wg     sync.WaitGroup
	active int64
}

// NewTaskGroup creates an empty task group
func NewTaskGroup(logger arbor.ILogger) *TaskGroup {
	return &TaskGroup{logger: logger}
}

// Go starts fn in a tracked goroutine. If fn panics the panic is logged and
// onPanic (when non-nil) is invoked from the same goroutine before it exits.
func (g *TaskGroup) Go(name string, fn func(), onPanic PanicHandler) {
	atomic.AddInt64(&goroutineCounter, 1)
	atomic.AddInt64(&g.active, 1)
	g.wg.Add(1)

	go func() {
		defer g.wg.Done()
		defer atomic.AddInt64(&g.active, -1)
		defer recoverGoroutine(g.logger, name, onPanic)
		fn()
	}()
}

// Active returns the number of tasks still running
func (g *TaskGroup) Active() int {
	return int(atomic.LoadInt64(&g.active))
}

// Wait blocks until every task has returned or ctx is done
func (g *TaskGroup) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d background tasks: %w", g.Active(), ctx.Err())
	}
}

func recoverGoroutine(logger arbor.ILogger, name string, onPanic PanicHandler) {
	r := recover()
	if r == nil {
		return
	}

	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	stackTrace := string(buf[:n])

	if logger != nil {
		logger.Error().
			Str("goroutine", name).
			Str("panic", fmt.Sprintf("%v", r)).
			Str("stack", stackTrace).
			Msg("Recovered from panic in goroutine - continuing service operation")
	} else {
		fmt.Fprintf(os.Stderr, "PANIC in goroutine %s: %v\n%s\n", name, r, stackTrace)
	}

	if onPanic != nil {
		onPanic(r, stackTrace)
	}
}
