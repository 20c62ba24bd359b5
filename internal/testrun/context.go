// Package testrun is the assertion and test execution engine. Suites and
// tests are registered once during a registration phase, then executed
// strictly sequentially; a test's outcome is decided entirely by the
// assertions it records, never by a return value.
package testrun

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"runtime"
	"sync"
)

// Tally counts the assertions recorded during a single test. It is reset
// at the start of each test (not each suite) so a test's assertions are
// attributable to it alone.
type Tally struct {
	Total  int
	Passed int
	Failed int
}

// Failure describes one failed assertion with its triggering source
// location.
type Failure struct {
	Message string
	File    string
	Line    int
}

func (f Failure) String() string {
	return fmt.Sprintf("%s:%d: %s", f.File, f.Line, f.Message)
}

// Context is handed to each test entry point. All assertion methods record
// into the per-test tally; a test with at least one failed assertion is
// classified Failed.
//
// Recording is mutex-protected: when a test exceeds its deadline, its
// goroutine may still be asserting while the runner records the deadline
// failure and classifies the test.
type Context struct {
	ctx  context.Context
	name string

	mu       sync.Mutex
	tally    Tally
	failures []Failure
}

func newContext(ctx context.Context, name string) *Context {
	return &Context{ctx: ctx, name: name}
}

// Ctx returns the run context, carrying the per-test deadline when one is
// configured.
func (tc *Context) Ctx() context.Context { return tc.ctx }

// Name returns the test's registered name.
func (tc *Context) Name() string { return tc.name }

// Tally returns the assertion counts recorded so far.
func (tc *Context) Tally() Tally {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.tally
}

// Failures returns a snapshot of the failed assertions recorded so far.
func (tc *Context) Failures() []Failure {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	out := make([]Failure, len(tc.failures))
	copy(out, tc.failures)
	return out
}

// pass records a successful assertion.
func (tc *Context) pass() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.tally.Total++
	tc.tally.Passed++
}

// fail records a failed assertion, capturing the caller of the public
// assertion method.
func (tc *Context) fail(msg string) {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		file, line = "unknown", 0
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.tally.Total++
	tc.tally.Failed++
	tc.failures = append(tc.failures, Failure{
		Message: msg,
		File:    filepath.Base(file),
		Line:    line,
	})
}

// Failf records an unconditional assertion failure.
func (tc *Context) Failf(format string, args ...any) {
	tc.fail(fmt.Sprintf(format, args...))
}

// Equal asserts got == want (by deep equality, so slices and structs work).
func (tc *Context) Equal(desc string, got, want any) {
	if reflect.DeepEqual(got, want) {
		tc.pass()
		return
	}
	tc.fail(fmt.Sprintf("%s: got %v, want %v", desc, got, want))
}

// NotEqual asserts got != want.
func (tc *Context) NotEqual(desc string, got, want any) {
	if !reflect.DeepEqual(got, want) {
		tc.pass()
		return
	}
	tc.fail(fmt.Sprintf("%s: got %v, want anything else", desc, got))
}

// True asserts cond.
func (tc *Context) True(desc string, cond bool) {
	if cond {
		tc.pass()
		return
	}
	tc.fail(fmt.Sprintf("%s: condition is false", desc))
}

// False asserts !cond.
func (tc *Context) False(desc string, cond bool) {
	if !cond {
		tc.pass()
		return
	}
	tc.fail(fmt.Sprintf("%s: condition is true", desc))
}

// Nil asserts v is nil (including typed nil pointers, slices, and maps).
func (tc *Context) Nil(desc string, v any) {
	if isNil(v) {
		tc.pass()
		return
	}
	tc.fail(fmt.Sprintf("%s: got %v, want nil", desc, v))
}

// NotNil asserts v is non-nil.
func (tc *Context) NotNil(desc string, v any) {
	if !isNil(v) {
		tc.pass()
		return
	}
	tc.fail(fmt.Sprintf("%s: got nil", desc))
}

// BytesEqual asserts two byte ranges are identical, reporting the first
// differing offset on failure.
func (tc *Context) BytesEqual(desc string, got, want []byte) {
	if bytes.Equal(got, want) {
		tc.pass()
		return
	}
	if len(got) != len(want) {
		tc.fail(fmt.Sprintf("%s: length %d, want %d", desc, len(got), len(want)))
		return
	}
	for i := range got {
		if got[i] != want[i] {
			tc.fail(fmt.Sprintf("%s: byte %d is 0x%02x, want 0x%02x", desc, i, got[i], want[i]))
			return
		}
	}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
		return rv.IsNil()
	default:
		return false
	}
}
