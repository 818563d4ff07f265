package engine

import (
	"regexp"
	"strings"
)

// gateSignal is one weighted detector over the raw message text.
type gateSignal struct {
	name    string
	weight  float64
	pattern *regexp.Regexp
}

// Gate signals. Weights are tuned so a single strong signal clears the
// default 0.3 threshold and casual chatter stays below it.
var gateSignals = []gateSignal{
	{
		name:   "commitment",
		weight: 0.40,
		pattern: regexp.MustCompile(`(?i)\b(i'?ll |i will |i promise|remind me|don'?t let me forget|i need to |i have to |i should |i owe )`),
	},
	{
		name:   "preference",
		weight: 0.35,
		pattern: regexp.MustCompile(`(?i)\b(i (really )?(love|like|hate|prefer|enjoy|dislike)\b|i can'?t stand|my favou?rite|i'?d rather)`),
	},
	{
		name:   "factual",
		weight: 0.30,
		pattern: regexp.MustCompile(`(?i)\b(i (work|live|grew up|studied|moved)\b|i'?m (a|an|from)\b|my (\w+ )?(is|are|was)\b)`),
	},
	{
		name:   "temporal",
		weight: 0.20,
		pattern: regexp.MustCompile(`(?i)\b(today|tonight|tomorrow|yesterday|next (week|month|monday|tuesday|wednesday|thursday|friday|saturday|sunday)|on (monday|tuesday|wednesday|thursday|friday|saturday|sunday)|at \d{1,2}(:\d{2})?\s?(am|pm)?|in \d+ (minutes?|hours?|days?|weeks?)|by (monday|tuesday|wednesday|thursday|friday|saturday|sunday|the end of))\b`),
	},
	{
		name:   "emotional",
		weight: 0.15,
		pattern: regexp.MustCompile(`(?i)\b(excited|worried|stressed|anxious|proud|frustrated|overwhelmed|nervous|thrilled)\b`),
	},
	{
		name:    "named_entity",
		weight:  0.15,
		pattern: regexp.MustCompile(`\b[a-z][\w'.,!?]*\s+[A-Z][a-z]{2,}\b`),
	},
}

// Gate scores incoming text for memorability. It is pure and does no
// I/O, so it can run on every message.
type Gate struct {
	threshold float64
}

// NewGate builds a gate with the given admission threshold.
func NewGate(threshold float64) *Gate {
	return &Gate{threshold: threshold}
}

// Score returns the memorability score in [0, 1]. Identical text always
// scores identically.
func (g *Gate) Score(text string) float64 {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}

	var score float64
	for _, sig := range gateSignals {
		if sig.pattern.MatchString(trimmed) {
			score += sig.weight
		}
	}
	if score > 1 {
		score = 1
	}
	return score
}

// Admit reports whether the text scores at or above the threshold.
func (g *Gate) Admit(text string) (float64, bool) {
	score := g.Score(text)
	return score, score >= g.threshold
}
