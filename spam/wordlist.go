package spam

import (
	"context"
	"strings"
)

// WordList flags comments containing configured words. Matching is
// case-insensitive over body, author name and author email.
type WordList struct {
	blocked []string
	discard []string
}

func NewWordList(blocked, discard []string) *WordList {
	return &WordList{blocked: normalize(blocked), discard: normalize(discard)}
}

func normalize(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			out = append(out, w)
		}
	}
	return out
}

func (w *WordList) Name() string { return "wordlist" }

func (w *WordList) Check(_ context.Context, s Snapshot, _ bool) (Result, error) {
	text := strings.ToLower(s.Body + "\n" + s.AuthorName + "\n" + s.AuthorEmail)
	for _, word := range w.discard {
		if strings.Contains(text, word) {
			return Result{Verdict: Discard, Diagnostics: map[string]string{"word": word}}, nil
		}
	}
	for _, word := range w.blocked {
		if strings.Contains(text, word) {
			return Result{Verdict: Spam, Diagnostics: map[string]string{"word": word}}, nil
		}
	}
	return Result{Verdict: Clean}, nil
}
