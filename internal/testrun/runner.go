package testrun

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// MemoryProbe reads the memory collaborator's published heap counters. The
// runner samples it before the first suite and after the last to produce
// the whole-run leak report.
type MemoryProbe interface {
	HeapUsed() uint64
	OutstandingAllocs() uint64
}

// LeakReport is the net memory growth across a whole run. It is a report,
// not an assertion: leaks never fail individual tests.
type LeakReport struct {
	Bytes  int64
	Blocks int64
}

// Leaked reports whether any net increase was observed.
func (l LeakReport) Leaked() bool { return l.Bytes > 0 || l.Blocks > 0 }

// Config controls run behavior.
type Config struct {
	// StopOnFirstFailure aborts the remaining tests in the current run
	// (not just the current suite) after the first failed test.
	StopOnFirstFailure bool

	// TestTimeout bounds each test invocation. Zero disables the
	// deadline, matching the legacy behavior where a hung test hangs the
	// run.
	TestTimeout time.Duration
}

// Report summarizes one run.
type Report struct {
	Passed   int
	Failed   int
	Skipped  int // registered but not executed (stop-on-first-failure)
	Duration time.Duration
	Leak     LeakReport
	Aborted  bool
}

// Runner executes a sealed registry strictly sequentially.
type Runner struct {
	reg *Registry
	cfg Config
	mem MemoryProbe
	log *slog.Logger
}

// NewRunner creates a runner. mem may be nil when no memory collaborator is
// available; the leak report is then all zeros. log may be nil.
func NewRunner(reg *Registry, cfg Config, mem MemoryProbe, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{reg: reg, cfg: cfg, mem: mem, log: log}
}

// Run executes every suite in registration order: setup once, each test in
// registration order, teardown once. The registry is sealed on entry and
// stays sealed. The leak delta is computed exactly once, spanning the
// whole run.
func (r *Runner) Run(ctx context.Context) Report {
	r.reg.seal()

	var report Report
	start := time.Now()

	var heapBefore, blocksBefore uint64
	if r.mem != nil {
		heapBefore = r.mem.HeapUsed()
		blocksBefore = r.mem.OutstandingAllocs()
	}

	stopped := false
	for _, suite := range r.reg.suites {
		if stopped {
			report.Skipped += len(suite.tests)
			continue
		}
		stopped = r.runSuite(ctx, suite, &report)
	}
	report.Aborted = stopped

	if r.mem != nil {
		report.Leak = LeakReport{
			Bytes:  int64(r.mem.HeapUsed()) - int64(heapBefore),
			Blocks: int64(r.mem.OutstandingAllocs()) - int64(blocksBefore),
		}
		if report.Leak.Bytes < 0 {
			report.Leak.Bytes = 0
		}
		if report.Leak.Blocks < 0 {
			report.Leak.Blocks = 0
		}
	}

	report.Duration = time.Since(start)
	r.log.Info("test run complete",
		"passed", report.Passed,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"leaked_bytes", report.Leak.Bytes,
		"leaked_blocks", report.Leak.Blocks,
		"aborted", report.Aborted)
	return report
}

// runSuite executes one suite and returns true when the run must stop.
func (r *Runner) runSuite(ctx context.Context, suite *Suite, report *Report) (stop bool) {
	if suite.Setup != nil {
		if err := suite.Setup(); err != nil {
			r.log.Error("suite setup failed", "suite", suite.Name, "error", err)
			for _, t := range suite.tests {
				t.LastResult = ResultFailed
				t.LastFailures = []Failure{{Message: "suite setup failed: " + err.Error()}}
				suite.Failed++
				report.Failed++
			}
			return r.cfg.StopOnFirstFailure
		}
	}

	for i, t := range suite.tests {
		r.runTest(ctx, t)

		switch t.LastResult {
		case ResultPassed:
			suite.Passed++
			report.Passed++
		case ResultFailed:
			suite.Failed++
			report.Failed++
			for _, f := range t.LastFailures {
				r.log.Warn("assertion failed", "suite", suite.Name, "test", t.Name, "at", f.String())
			}
			if r.cfg.StopOnFirstFailure {
				report.Skipped += len(suite.tests) - i - 1
				stop = true
			}
		}
		if stop {
			break
		}
	}

	if suite.Teardown != nil {
		if err := suite.Teardown(); err != nil {
			r.log.Error("suite teardown failed", "suite", suite.Name, "error", err)
		}
	}
	return stop
}

// runTest executes one test with a fresh assertion context and classifies
// it from the tally.
func (r *Runner) runTest(ctx context.Context, t *Test) {
	runCtx := ctx
	var cancel context.CancelFunc
	if r.cfg.TestTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.TestTimeout)
		defer cancel()
	}

	tc := newContext(runCtx, t.Name)

	start := time.Now()
	if r.cfg.TestTimeout > 0 {
		r.executeWithDeadline(runCtx, t, tc)
	} else {
		t.Entry.Execute(tc)
	}
	t.LastDuration = time.Since(start)

	// Snapshot through the locked accessors: after a deadline the entry
	// goroutine may still be asserting into tc.
	if tc.Tally().Failed > 0 {
		t.LastResult = ResultFailed
	} else {
		t.LastResult = ResultPassed
	}
	t.LastFailures = tc.Failures()
}

// executeWithDeadline runs the entry point in a goroutine and gives up when
// the deadline passes. A test that never returns leaks its goroutine; the
// deadline exists so the run itself cannot hang.
func (r *Runner) executeWithDeadline(ctx context.Context, t *Test, tc *Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.Entry.Execute(tc)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		tc.Failf("test exceeded deadline %v", r.cfg.TestTimeout)
		r.log.Error("test exceeded deadline", "test", t.Name, "timeout", r.cfg.TestTimeout)
	}
}
