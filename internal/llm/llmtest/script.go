// Package llmtest provides a scripted llm.Service for stage tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/KaramelBytes/insightloom-cli/internal/llm"
)

// Reply is one scripted answer: either Content or Err.
type Reply struct {
	Content string
	Err     error
}

// Script replays replies in order and records every request. Once the
// replies run out, the last one repeats.
type Script struct {
	mu       sync.Mutex
	replies  []Reply
	requests []llm.Request
}

func NewScript(replies ...Reply) *Script { return &Script{replies: replies} }

// Text is shorthand for a script of successful replies.
func Text(contents ...string) *Script {
	rs := make([]Reply, len(contents))
	for i, c := range contents {
		rs[i] = Reply{Content: c}
	}
	return NewScript(rs...)
}

func (s *Script) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replies) == 0 {
		return nil, fmt.Errorf("llmtest: no scripted replies")
	}
	i := len(s.requests)
	s.requests = append(s.requests, req)
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	r := s.replies[i]
	if r.Err != nil {
		return nil, r.Err
	}
	return &llm.Response{Content: r.Content, Model: "scripted", Attempts: 1}, nil
}

// Requests returns a copy of the requests seen so far.
func (s *Script) Requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Calls is the number of Complete calls made.
func (s *Script) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}
