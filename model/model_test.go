package model

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollect_NonStreaming(t *testing.T) {
	m := NewMockModel("mock", "mock")
	m.AddResponse("hello", "world")

	text, err := Collect(context.Background(), m, NewRequest("be brief", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "world", text)
}

func TestCollect_StreamingUsesFinal(t *testing.T) {
	m := NewMockModel("mock", "mock")
	m.AddResponse("hello", "a streamed answer")

	req := NewRequest("", "hello")
	req.Stream = true
	text, err := Collect(context.Background(), m, req)
	require.NoError(t, err)
	assert.Equal(t, "a streamed answer", text)
}

func TestCollect_Error(t *testing.T) {
	m := NewMockModel("mock", "mock")
	m.FailOn("explode", "rate limited")

	_, err := Collect(context.Background(), m, NewRequest("", "please explode"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestCollect_EmptyResponse(t *testing.T) {
	m := NewMockModel("mock", "mock")
	m.AddResponse("q", "   ")

	_, err := Collect(context.Background(), m, NewRequest("", "q"))
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestCollect_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Collect(ctx, blockingModel{}, NewRequest("", "q"))
	assert.ErrorIs(t, err, context.Canceled)
}

type blockingModel struct{}

func (blockingModel) Generate(ctx context.Context, _ Request) (<-chan Response, <-chan error) {
	return make(chan Response), make(chan error)
}

func (blockingModel) Info() Info { return Info{Name: "blocking", Provider: "test"} }

func TestMockModel_RulesAndCalls(t *testing.T) {
	m := NewMockModel("mock", "mock")
	m.AddRule("Generate SQL", "```sql\nSELECT 1\n```")

	text, err := Collect(context.Background(), m, NewRequest("Generate SQL for the question.", "how many?"))
	require.NoError(t, err)
	assert.Contains(t, text, "SELECT 1")

	text, err = Collect(context.Background(), m, NewRequest("", "other"))
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: other", text)

	assert.Len(t, m.Calls(), 2)
}

func TestPool_LazySingleConstruction(t *testing.T) {
	p := NewPool()
	var mu sync.Mutex
	built := 0
	require.NoError(t, p.Register("gpt", func() (Model, error) {
		mu.Lock()
		built++
		mu.Unlock()
		return NewMockModel("gpt", "mock"), nil
	}))

	var wg sync.WaitGroup
	results := make([]Model, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := p.Get("gpt")
			assert.NoError(t, err)
			results[i] = m
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, built)
	for _, m := range results {
		assert.Same(t, results[0], m)
	}
}

func TestPool_DefaultAndErrors(t *testing.T) {
	p := NewPool()
	_, err := p.Default()
	assert.ErrorIs(t, err, ErrModelNotFound)

	a := NewMockModel("a", "mock")
	require.NoError(t, p.Add("a", a))
	require.NoError(t, p.Register("broken", func() (Model, error) { return nil, errors.New("no key") }))
	require.Error(t, p.Add("a", a))

	m, err := p.Default()
	require.NoError(t, err)
	assert.Same(t, a, m)

	_, err = p.Get("broken")
	assert.EqualError(t, err, "no key")
	_, err = p.Get("missing")
	assert.ErrorIs(t, err, ErrModelNotFound)

	require.NoError(t, p.SetDefault("broken"))
	_, err = p.Default()
	assert.Error(t, err)
	assert.Equal(t, []string{"a", "broken"}, p.Names())
}
