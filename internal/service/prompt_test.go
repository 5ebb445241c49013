package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaot623/autoreply/internal/domain"
)

func history(pairs ...string) []domain.Message {
	var out []domain.Message
	for i := 0; i+1 < len(pairs); i += 2 {
		d := domain.DirectionInbound
		if pairs[i] == "out" {
			d = domain.DirectionOutbound
		}
		out = append(out, domain.Message{Direction: d, Content: pairs[i+1]})
	}
	return out
}

func TestBuildPromptOrderingAndLimit(t *testing.T) {
	cfg := domain.DefaultAutomationConfig()
	cfg.ContextLimit = 3

	prompt := BuildPrompt(&cfg, "", history(
		"in", "one",
		"out", "two",
		"in", "three",
		"out", "four",
	), "five")

	assert.NotContains(t, prompt, "Contact: one")
	i2 := strings.Index(prompt, "You: two")
	i3 := strings.Index(prompt, "Contact: three")
	i4 := strings.Index(prompt, "You: four")
	i5 := strings.Index(prompt, "Contact: five")
	require.True(t, i2 >= 0 && i3 >= 0 && i4 >= 0 && i5 >= 0, prompt)
	assert.True(t, i2 < i3 && i3 < i4 && i4 < i5)
	assert.True(t, strings.HasSuffix(prompt, "Contact: five\nYou:"))
	assert.Equal(t, 1, strings.Count(prompt, "five"))
}

func TestBuildPromptPersona(t *testing.T) {
	cfg := domain.DefaultAutomationConfig()
	cfg.Tone = "warm"
	cfg.Style = "concise"
	cfg.Language = "Portuguese"
	cfg.CustomInstructions = "Mention the shop closes at 6pm."

	prompt := BuildPrompt(&cfg, "", nil, "oi")
	assert.Contains(t, prompt, "warm tone")
	assert.Contains(t, prompt, "concise style")
	assert.Contains(t, prompt, "Always answer in Portuguese.")
	assert.Contains(t, prompt, "Mention the shop closes at 6pm.")
	assert.NotContains(t, prompt, "Conversation so far")

	prompt = BuildPrompt(&cfg, "You are on vacation.", nil, "oi")
	assert.Contains(t, prompt, "You are on vacation.")
	assert.NotContains(t, prompt, "shop closes")
}

func TestBuildPromptNoContext(t *testing.T) {
	cfg := domain.DefaultAutomationConfig()
	cfg.ContextLimit = 0

	prompt := BuildPrompt(&cfg, "", history("in", "earlier"), "now")
	assert.NotContains(t, prompt, "earlier")
}

func TestGenerateReplyFallback(t *testing.T) {
	f := newFixture(t)
	cfg := domain.DefaultAutomationConfig()

	f.completer.Err = errors.New("connection refused")
	reply := f.svc.generateReply(context.Background(), &cfg, "Contact: hi\nYou:")
	assert.True(t, reply.Fallback)
	assert.NotEmpty(t, reply.Content)
	assert.Equal(t, f.cfg.FallbackReply, reply.Content)
	assert.Equal(t, true, reply.Metadata["error"])

	f.completer.Err = nil
	f.completer.Reply = func(string) string { return "   " }
	reply = f.svc.generateReply(context.Background(), &cfg, "Contact: hi\nYou:")
	assert.True(t, reply.Fallback)

	f.completer.Reply = func(string) string { return " sure, see you then " }
	reply = f.svc.generateReply(context.Background(), &cfg, "Contact: hi\nYou:")
	assert.False(t, reply.Fallback)
	assert.Equal(t, "sure, see you then", reply.Content)
	assert.Equal(t, cfg.ModelName, reply.Metadata["model"])
}

func TestGenerateReplyTimeout(t *testing.T) {
	f := newFixture(t)
	f.cfg.LLMTimeout = 20 * time.Millisecond
	f.completer.Delay = time.Second
	cfg := domain.DefaultAutomationConfig()

	start := time.Now()
	reply := f.svc.generateReply(context.Background(), &cfg, "Contact: hi\nYou:")
	assert.True(t, reply.Fallback)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestUniformDelayBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := uniformDelay(2*time.Second, 8*time.Second)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 8*time.Second)
	}
	assert.Equal(t, time.Second, uniformDelay(time.Second, time.Second))
}
