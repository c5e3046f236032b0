package spam

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	name    string
	verdict Verdict
	err     error
	delay   time.Duration
	calls   int
	spam    int
	ham     int
	failRep bool
}

func (f *fakeChecker) Name() string { return f.name }

func (f *fakeChecker) Check(ctx context.Context, _ Snapshot, _ bool) (Result, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	return Result{Verdict: f.verdict}, f.err
}

func (f *fakeChecker) ReportSpam(context.Context, Snapshot) error {
	f.spam++
	if f.failRep {
		return errors.New("unreachable")
	}
	return nil
}

func (f *fakeChecker) ReportHam(context.Context, Snapshot) error {
	f.ham++
	return nil
}

// plainChecker does not implement Reporter.
type plainChecker struct{ verdict Verdict }

func (p plainChecker) Name() string { return "plain" }
func (p plainChecker) Check(context.Context, Snapshot, bool) (Result, error) {
	return Result{Verdict: p.verdict}, nil
}

func TestAggregateIsOrderIndependent(t *testing.T) {
	cases := []struct {
		in   []Verdict
		want Verdict
	}{
		{nil, Clean},
		{[]Verdict{Clean, Clean}, Clean},
		{[]Verdict{Clean, Spam}, Spam},
		{[]Verdict{Spam, Clean}, Spam},
		{[]Verdict{Spam, Discard, Clean}, Discard},
		{[]Verdict{Discard, Spam}, Discard},
		{[]Verdict{Clean, Clean, Discard}, Discard},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Aggregate(tc.in), "%v", tc.in)
		reversed := make([]Verdict, len(tc.in))
		for i, v := range tc.in {
			reversed[len(tc.in)-1-i] = v
		}
		assert.Equal(t, tc.want, Aggregate(reversed), "%v reversed", tc.in)
	}
}

func TestChainTreatsFailuresAsClean(t *testing.T) {
	broken := &fakeChecker{name: "broken", verdict: Spam, err: errors.New("503")}
	ok := &fakeChecker{name: "ok", verdict: Clean}
	chain := NewChain(nil, time.Second, broken, ok)

	out := chain.Check(context.Background(), Snapshot{Body: "hi"}, true)
	assert.Equal(t, Clean, out.Verdict)
	require.Len(t, out.Results, 2)
	assert.Error(t, out.Results[0].Err)
	assert.Equal(t, Clean, out.Results[0].Result.Verdict)
}

func TestChainTimeoutCountsAsClean(t *testing.T) {
	slow := &fakeChecker{name: "slow", verdict: Spam, delay: time.Second}
	chain := NewChain(nil, 20*time.Millisecond, slow)

	start := time.Now()
	out := chain.Check(context.Background(), Snapshot{}, true)
	assert.Equal(t, Clean, out.Verdict)
	assert.ErrorIs(t, out.Results[0].Err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestChainStopsAtDiscard(t *testing.T) {
	first := &fakeChecker{name: "first", verdict: Spam}
	discard := &fakeChecker{name: "discard", verdict: Discard}
	never := &fakeChecker{name: "never", verdict: Clean}
	chain := NewChain(nil, 0, first, discard, never)

	out := chain.Check(context.Background(), Snapshot{}, true)
	assert.Equal(t, Discard, out.Verdict)
	assert.Len(t, out.Results, 2)
	assert.Zero(t, never.calls)
}

func TestChainSpamFromAnyChecker(t *testing.T) {
	chain := NewChain(nil, 0, plainChecker{Clean}, plainChecker{Spam}, plainChecker{Clean})
	assert.Equal(t, Spam, chain.Check(context.Background(), Snapshot{}, false).Verdict)
	assert.Equal(t, 3, chain.Len())
}

func TestChainReportsToEveryReporter(t *testing.T) {
	failing := &fakeChecker{name: "failing", failRep: true}
	good := &fakeChecker{name: "good"}
	chain := NewChain(nil, time.Second, failing, plainChecker{}, good)

	err := chain.ReportSpam(context.Background(), Snapshot{})
	assert.Error(t, err)
	assert.Equal(t, 1, failing.spam)
	assert.Equal(t, 1, good.spam)

	require.NoError(t, chain.ReportHam(context.Background(), Snapshot{}))
	assert.Equal(t, 1, good.ham)
}

func TestWordList(t *testing.T) {
	wl := NewWordList([]string{"Casino", " "}, []string{"viagra"})
	ctx := context.Background()

	res, err := wl.Check(ctx, Snapshot{Body: "Best CASINO bonus"}, true)
	require.NoError(t, err)
	assert.Equal(t, Spam, res.Verdict)

	res, err = wl.Check(ctx, Snapshot{Body: "casino", AuthorEmail: "viagra@example.com"}, true)
	require.NoError(t, err)
	assert.Equal(t, Discard, res.Verdict)

	res, err = wl.Check(ctx, Snapshot{Body: "a thoughtful reply"}, true)
	require.NoError(t, err)
	assert.Equal(t, Clean, res.Verdict)
}
