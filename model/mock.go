package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// MockModel is a lightweight in-memory Model useful for tests and examples.
// It is safe for concurrent use.
type MockModel struct {
	info Info

	mu        sync.Mutex
	responses map[string]string
	rules     []mockRule
	errs      []mockRule
	calls     []Request
}

type mockRule struct {
	contains string
	response string
}

// NewMockModel constructs a MockModel.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: provider},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an exact prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// AddRule answers any prompt (instructions or user text) containing substr
// with response. Rules are checked in registration order after exact prompts.
func (m *MockModel) AddRule(substr, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{contains: substr, response: response})
}

// FailOn makes any prompt containing substr fail with message.
func (m *MockModel) FailOn(substr, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, mockRule{contains: substr, response: message})
}

// Calls returns the requests received so far.
func (m *MockModel) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockModel) answer(req Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)

	input := req.LastUserText()
	haystack := req.Instructions + "\n" + input
	for _, r := range m.errs {
		if strings.Contains(haystack, r.contains) {
			return "", errors.New(r.response)
		}
	}
	if resp, ok := m.responses[input]; ok {
		return resp, nil
	}
	for _, r := range m.rules {
		if strings.Contains(haystack, r.contains) {
			return r.response, nil
		}
	}
	return fmt.Sprintf("Mock response to: %s", input), nil
}

// Generate implements Model; emits optional streaming word chunks then the
// final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)
		if len(req.Messages) == 0 {
			errCh <- fmt.Errorf("no messages provided")
			return
		}
		full, err := m.answer(req)
		if err != nil {
			errCh <- err
			return
		}
		if req.Stream {
			for _, w := range strings.SplitAfter(full, " ") {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Text: w}:
				}
			}
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- Response{Text: full, FinishReason: "stop"}:
		}
	}()
	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
