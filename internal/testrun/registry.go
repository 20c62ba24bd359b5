package testrun

import (
	"fmt"
	"time"
)

// Result is the lifecycle state of a test: registered but unrun, or
// classified after execution.
type Result int

const (
	ResultUnrun Result = iota
	ResultPassed
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultPassed:
		return "pass"
	case ResultFailed:
		return "fail"
	default:
		return "unrun"
	}
}

// Executable is a test entry point. A test never returns pass/fail
// directly; it records assertions on the Context and the runner classifies
// the outcome from the tally.
type Executable interface {
	Execute(tc *Context)
}

// Func adapts a plain function to Executable.
type Func func(tc *Context)

func (f Func) Execute(tc *Context) { f(tc) }

// Test is one registered test case.
type Test struct {
	ID      int
	SuiteID int
	Name    string
	Entry   Executable

	LastResult   Result
	LastDuration time.Duration
	LastFailures []Failure
}

// Hook runs once per suite, before (setup) or after (teardown) its tests.
type Hook func() error

// Suite owns an ordered collection of tests. Tests cannot outlive their
// suite; they are registered through it and executed in registration order.
type Suite struct {
	ID       int
	Name     string
	Setup    Hook
	Teardown Hook

	tests  []*Test
	Passed int
	Failed int

	reg *Registry
}

// Add registers a test in this suite. It fails once the registry is sealed
// for execution.
func (s *Suite) Add(name string, entry Executable) (*Test, error) {
	if s.reg.sealed {
		return nil, fmt.Errorf("cannot add test %q: registry sealed for execution", name)
	}
	if entry == nil {
		return nil, fmt.Errorf("test %q has no entry point", name)
	}
	s.reg.nextTestID++
	t := &Test{
		ID:      s.reg.nextTestID,
		SuiteID: s.ID,
		Name:    name,
		Entry:   entry,
	}
	s.tests = append(s.tests, t)
	return t, nil
}

// AddFunc registers a plain function as a test.
func (s *Suite) AddFunc(name string, fn func(tc *Context)) (*Test, error) {
	return s.Add(name, Func(fn))
}

// Tests returns the suite's tests in registration order.
func (s *Suite) Tests() []*Test {
	out := make([]*Test, len(s.tests))
	copy(out, s.tests)
	return out
}

// Registry holds all suites for one run. It is populated during a
// registration phase and sealed (immutable) once execution starts.
// Registries are injected per run, never process-wide.
type Registry struct {
	suites     []*Suite
	nextTestID int
	sealed     bool
}

// NewRegistry creates an empty test registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// AddSuite registers a suite with optional setup/teardown hooks.
func (r *Registry) AddSuite(name string, setup, teardown Hook) (*Suite, error) {
	if r.sealed {
		return nil, fmt.Errorf("cannot add suite %q: registry sealed for execution", name)
	}
	s := &Suite{
		ID:       len(r.suites) + 1,
		Name:     name,
		Setup:    setup,
		Teardown: teardown,
		reg:      r,
	}
	r.suites = append(r.suites, s)
	return s, nil
}

// Suites returns the suites in registration order.
func (r *Registry) Suites() []*Suite {
	out := make([]*Suite, len(r.suites))
	copy(out, r.suites)
	return out
}

// TestCount returns the total number of registered tests.
func (r *Registry) TestCount() int {
	n := 0
	for _, s := range r.suites {
		n += len(s.tests)
	}
	return n
}

// seal freezes the registry; further registration fails.
func (r *Registry) seal() { r.sealed = true }
