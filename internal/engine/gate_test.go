package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGateScoresDeterministic(t *testing.T) {
	g := NewGate(0.3)
	text := "I'll send Sarah the report tomorrow"
	assert.Equal(t, g.Score(text), g.Score(text), "identical text must score identically")
}

func TestGateAdmitsMemorableText(t *testing.T) {
	g := NewGate(0.3)
	memorable := []string{
		"I'll send Sarah the report tomorrow",
		"I really love oat milk in my coffee",
		"I work at Globex as a platform engineer",
		"remind me to book the dentist next week",
		"my sister Maria is visiting on Friday",
	}
	for _, text := range memorable {
		score, ok := g.Admit(text)
		assert.True(t, ok, "expected %q to pass the gate (score %f)", text, score)
	}
}

func TestGateFiltersChatter(t *testing.T) {
	g := NewGate(0.3)
	chatter := []string{
		"ok",
		"lol nice",
		"sounds good",
		"thanks!",
		"haha yeah",
	}
	for _, text := range chatter {
		score, ok := g.Admit(text)
		assert.False(t, ok, "expected %q below the gate (score %f)", text, score)
	}
}

func TestGateScoreBounds(t *testing.T) {
	g := NewGate(0.3)
	// Every signal at once still clips at 1.
	loaded := "I'll remind me tomorrow I love it, I work at Acme, my boss Maria is stressed, at 5pm"
	score := g.Score(loaded)
	assert.LessOrEqual(t, score, 1.0)
	assert.Greater(t, score, 0.5)

	assert.Equal(t, 0.0, g.Score(""))
	assert.Equal(t, 0.0, g.Score("   "))
}
