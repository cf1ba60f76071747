// Package tokenizer provides token counting for budget checks. The
// estimator is not a real tokenizer; it is a conservative bound used only
// for safety thresholds, so summarization triggers early rather than late.
package tokenizer

import "unicode/utf8"

// Counter counts tokens in text. CountAll covers whole requests, adding
// the per-message framing cost a chat API charges on top of raw content.
type Counter interface {
	Count(text string) int
	CountAll(texts ...string) int
}

// messageOverhead approximates the per-message framing cost (role tags,
// separators) a chat API adds on top of raw content.
const messageOverhead = 4

// Estimator is a heuristic Counter.
type Estimator struct{}

// NewEstimator creates a heuristic token counter.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// Count estimates the token count of text as the larger of bytes/3 and
// runes/2. Most BPE tokenizers land around 3-4 chars per token, so both
// bounds over-estimate; runes/2 governs single-byte text and bytes/3
// governs multibyte-heavy text.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	byBytes := len(text) / 3
	byRunes := utf8.RuneCountInString(text) / 2
	if byRunes > byBytes {
		return byRunes
	}
	return byBytes
}

// CountAll estimates the total token count of several texts, including
// per-message framing overhead.
func (e *Estimator) CountAll(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += e.Count(t) + messageOverhead
	}
	return total
}
