// Package responder produces streamed text replies for the chat endpoint.
package responder

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// DefaultInterval is the pause between mock tokens.
const DefaultInterval = 160 * time.Millisecond

// Responder streams a reply to prompt. The channel is closed when the reply
// ends or ctx is done; a failure before the first token is returned as error.
type Responder interface {
	Name() string
	Stream(ctx context.Context, prompt string) (<-chan string, error)
}

type MockConfig struct {
	// Reply overrides the generated echo. %s is replaced with the prompt.
	Reply    string        `mapstructure:"reply"`
	Interval time.Duration `mapstructure:"interval"`
	Err      error         `mapstructure:"-"`
}

// Mock emits a canned reply one token at a time.
type Mock struct {
	cfg   MockConfig
	sleep func(ctx context.Context, d time.Duration) bool
}

func NewMock(cfg MockConfig) *Mock {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Mock{cfg: cfg, sleep: sleepCtx}
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) Reply(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if m.cfg.Reply != "" {
		if strings.Contains(m.cfg.Reply, "%s") {
			return fmt.Sprintf(m.cfg.Reply, prompt)
		}
		return m.cfg.Reply
	}
	question := "(no prompt given)"
	if prompt != "" {
		question = fmt.Sprintf("%q", prompt)
	}
	return strings.Join([]string{
		"You asked: " + question + ". What follows is a simulated streamed model reply.",
		"",
		"1. Understand the question: intent, context and scope.",
		"2. Retrieve knowledge: look up the facts the answer needs.",
		"3. Draft: compose a candidate answer from those facts.",
		"4. Polish: check the logic and formatting before sending.",
		"",
		"This demo streams plain server-sent events so a client can render the reply as it arrives.",
	}, "\n")
}

func (m *Mock) Stream(ctx context.Context, prompt string) (<-chan string, error) {
	if m.cfg.Err != nil {
		return nil, m.cfg.Err
	}
	tokens := Tokenize(m.Reply(prompt))
	out := make(chan string)
	go func() {
		defer close(out)
		for _, tok := range tokens {
			if !m.sleep(ctx, m.cfg.Interval) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case out <- tok:
			}
		}
	}()
	return out, nil
}

// Tokenize splits text into alternating word and whitespace runs, keeping
// both so that concatenating the tokens yields text again.
func Tokenize(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if i == 0 {
			continue
		}
		prev, _ := utf8.DecodeLastRuneInString(text[:i])
		if unicode.IsSpace(prev) != unicode.IsSpace(r) {
			out = append(out, text[start:i])
			start = i
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Collect drains a token channel into one string.
func Collect(ch <-chan string) string {
	var b strings.Builder
	for tok := range ch {
		b.WriteString(tok)
	}
	return b.String()
}
