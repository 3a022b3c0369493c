// Package llmtest provides a scripted completer for tests
package llmtest

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	llmtypes "github.com/sqlpilot/sqlpilot/pkg/types/llm"
)

// Reply is one scripted response. When Err is set the call fails.
type Reply struct {
	Text  string
	Usage llmtypes.TokenUsage
	Err   error
}

// Text is shorthand for a successful reply costing the given total tokens
func Text(text string, totalTokens int) Reply {
	return Reply{
		Text:  text,
		Usage: llmtypes.NewTokenUsage(totalTokens/2, totalTokens-totalTokens/2, totalTokens),
	}
}

// Fail is shorthand for a failing reply
func Fail(message string) Reply {
	return Reply{Err: errors.New(message)}
}

// ScriptedCompleter returns queued replies in order and records every prompt
type ScriptedCompleter struct {
	mu      sync.Mutex
	replies []Reply
	prompts []llmtypes.Prompt
}

// New creates a completer that answers with replies in order
func New(replies ...Reply) *ScriptedCompleter {
	return &ScriptedCompleter{replies: replies}
}

// Push queues more replies
func (s *ScriptedCompleter) Push(replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, replies...)
}

// Complete implements llmtypes.Completer. Running out of replies is an error.
func (s *ScriptedCompleter) Complete(_ context.Context, prompt llmtypes.Prompt) (llmtypes.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prompts = append(s.prompts, prompt)
	if len(s.replies) == 0 {
		return llmtypes.Completion{}, errors.Errorf("no scripted reply for call %d", len(s.prompts))
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	if reply.Err != nil {
		return llmtypes.Completion{}, reply.Err
	}
	return llmtypes.Completion{Text: reply.Text, Usage: reply.Usage}, nil
}

// Provider implements llmtypes.Completer
func (s *ScriptedCompleter) Provider() string { return "scripted" }

// Model implements llmtypes.Completer
func (s *ScriptedCompleter) Model() string { return "scripted" }

// Prompts returns a copy of every prompt received so far
func (s *ScriptedCompleter) Prompts() []llmtypes.Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llmtypes.Prompt(nil), s.prompts...)
}

// Calls returns the number of completion calls made
func (s *ScriptedCompleter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

// Remaining returns how many scripted replies were not consumed
func (s *ScriptedCompleter) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replies)
}
