// Package spam screens comment submissions through an ordered chain of
// checkers and forwards moderator feedback to the checkers that learn.
package spam

import (
	"context"
	"time"
)

// Verdict is the outcome of screening one comment.
type Verdict int

const (
	Clean Verdict = iota
	Spam
	// Discard marks blatant spam that is dropped without being stored.
	Discard
)

func (v Verdict) String() string {
	switch v {
	case Clean:
		return "clean"
	case Spam:
		return "spam"
	case Discard:
		return "discard"
	default:
		return "unknown"
	}
}

// Snapshot is the read-only view of a comment handed to checkers.
type Snapshot struct {
	Body        string
	AuthorName  string
	AuthorEmail string
	AuthorID    uint
	IP          string
	UserAgent   string
	CreatedOn   time.Time
	Permalink   string
	Referrer    string
	Language    string
}

// Result is what one checker reports.
type Result struct {
	Verdict     Verdict
	Diagnostics map[string]string
}

// Checker classifies a comment. isNew is false when an edit is rechecked.
type Checker interface {
	Name() string
	Check(ctx context.Context, s Snapshot, isNew bool) (Result, error)
}

// Reporter receives moderator corrections.
type Reporter interface {
	ReportSpam(ctx context.Context, s Snapshot) error
	ReportHam(ctx context.Context, s Snapshot) error
}

// Aggregate folds checker verdicts: any Discard wins, then any Spam,
// otherwise Clean.
func Aggregate(verdicts []Verdict) Verdict {
	out := Clean
	for _, v := range verdicts {
		switch v {
		case Discard:
			return Discard
		case Spam:
			out = Spam
		}
	}
	return out
}
