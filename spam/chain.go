package spam

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// CheckerResult records what one checker in the chain returned.
type CheckerResult struct {
	Checker string
	Result  Result
	Err     error
}

// Outcome is the aggregated verdict plus the per-checker results.
type Outcome struct {
	Verdict Verdict
	Results []CheckerResult
}

// Chain runs checkers in order. A checker that fails or exceeds the
// timeout counts as Clean; the first Discard ends the run.
type Chain struct {
	checkers []Checker
	timeout  time.Duration
	log      *zap.Logger
}

// NewChain builds a chain. A zero timeout leaves calls bounded only by ctx.
func NewChain(log *zap.Logger, timeout time.Duration, checkers ...Checker) *Chain {
	if log == nil {
		log = zap.NewNop()
	}
	return &Chain{checkers: checkers, timeout: timeout, log: log}
}

// Len returns the number of configured checkers.
func (c *Chain) Len() int {
	return len(c.checkers)
}

// Check screens s through every checker.
func (c *Chain) Check(ctx context.Context, s Snapshot, isNew bool) Outcome {
	out := Outcome{Verdict: Clean, Results: make([]CheckerResult, 0, len(c.checkers))}
	verdicts := make([]Verdict, 0, len(c.checkers))
	for _, ch := range c.checkers {
		res, err := c.run(ctx, ch, s, isNew)
		if err != nil {
			checkerFailures.WithLabelValues(ch.Name()).Inc()
			c.log.Warn("spam checker failed, treating as clean",
				zap.String("checker", ch.Name()),
				zap.Bool("is_new", isNew),
				zap.Error(err))
			res = Result{Verdict: Clean}
		}
		out.Results = append(out.Results, CheckerResult{Checker: ch.Name(), Result: res, Err: err})
		verdicts = append(verdicts, res.Verdict)
		if res.Verdict == Discard {
			break
		}
	}
	out.Verdict = Aggregate(verdicts)
	verdictsTotal.WithLabelValues(out.Verdict.String()).Inc()
	return out
}

type reply struct {
	res Result
	err error
}

// run calls one checker and stops waiting once ctx or the timeout expires,
// even if the checker ignores its context.
func (c *Chain) run(ctx context.Context, ch Checker, s Snapshot, isNew bool) (Result, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: fmt.Errorf("checker panicked: %v", r)}
			}
		}()
		res, err := ch.Check(ctx, s, isNew)
		done <- reply{res: res, err: err}
	}()
	select {
	case r := <-done:
		return r.res, r.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// ReportSpam forwards a spam correction to every Reporter in the chain.
// The returned error is informational only.
func (c *Chain) ReportSpam(ctx context.Context, s Snapshot) error {
	return c.report(ctx, "spam", s, Reporter.ReportSpam)
}

// ReportHam forwards a false-positive correction to every Reporter.
func (c *Chain) ReportHam(ctx context.Context, s Snapshot) error {
	return c.report(ctx, "ham", s, Reporter.ReportHam)
}

func (c *Chain) report(ctx context.Context, kind string, s Snapshot, send func(Reporter, context.Context, Snapshot) error) error {
	var errs []error
	for _, ch := range c.checkers {
		r, ok := ch.(Reporter)
		if !ok {
			continue
		}
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if c.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		}
		err := send(r, callCtx, s)
		cancel()
		if err != nil {
			reportFailures.WithLabelValues(ch.Name(), kind).Inc()
			c.log.Warn("spam report failed",
				zap.String("checker", ch.Name()),
				zap.String("kind", kind),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}
