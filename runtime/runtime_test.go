package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/querymesh/core"
	"github.com/hupe1980/querymesh/logging"
)

type textMessage struct {
	Text string
}

func (textMessage) Kind() core.MessageKind { return "text" }

// testAgent records every delivery and delegates to an optional handler.
type testAgent struct {
	id       core.AgentID
	handle   func(ctx context.Context, msg core.Message, mctx *core.MessageContext) (core.Message, error)
	mu       sync.Mutex
	got      []string
	released bool
	active   int
	maxSeen  int
}

func newTestAgent(id core.AgentID) *testAgent { return &testAgent{id: id} }

func (a *testAgent) ID() core.AgentID { return a.id }

func (a *testAgent) OnMessage(ctx context.Context, msg core.Message, mctx *core.MessageContext) (core.Message, error) {
	a.mu.Lock()
	a.active++
	if a.active > a.maxSeen {
		a.maxSeen = a.active
	}
	if tm, ok := msg.(textMessage); ok {
		a.got = append(a.got, tm.Text)
	}
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.active--
		a.mu.Unlock()
	}()

	if a.handle != nil {
		return a.handle(ctx, msg, mctx)
	}
	return nil, nil
}

func (a *testAgent) Release(context.Context) error {
	a.mu.Lock()
	a.released = true
	a.mu.Unlock()
	return nil
}

func (a *testAgent) received() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.got))
	copy(out, a.got)
	return out
}

func register(t *testing.T, rt *Runtime, agentType string) *testAgent {
	t.Helper()
	var a *testAgent
	_, err := rt.Register(agentType, "", func(id core.AgentID) (core.Agent, error) {
		a = newTestAgent(id)
		return a, nil
	})
	require.NoError(t, err)
	return a
}

func waitIdle(t *testing.T, rt *Runtime) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, rt.StopWhenIdle(ctx))
}

func TestRuntime_PublishDeliversToSubscribers(t *testing.T) {
	rt := New()
	a := register(t, rt, "worker")
	b := register(t, rt, "observer")

	require.NoError(t, rt.Subscribe(AgentSubscription{TopicType: "jobs", Agent: a.ID()}))
	require.NoError(t, rt.Subscribe(AgentSubscription{TopicType: "jobs", Agent: b.ID()}))
	require.NoError(t, rt.Start())

	require.NoError(t, rt.Publish(context.Background(), textMessage{Text: "one"}, core.NewTopicID("jobs", "r1"), nil))
	waitIdle(t, rt)

	assert.Equal(t, []string{"one"}, a.received())
	assert.Equal(t, []string{"one"}, b.received())
	assert.Equal(t, int64(2), rt.Stats().Delivered)
	assert.Equal(t, int64(0), rt.OrphanCount())
}

func TestRuntime_PerSenderFIFO(t *testing.T) {
	rt := New()
	a := register(t, rt, "worker")
	require.NoError(t, rt.Subscribe(AgentSubscription{TopicType: "jobs", Agent: a.ID()}))
	require.NoError(t, rt.Start())

	var want []string
	for i := 0; i < 200; i++ {
		text := fmt.Sprintf("m%03d", i)
		want = append(want, text)
		require.NoError(t, rt.Publish(context.Background(), textMessage{Text: text}, core.NewTopicID("jobs", "r1"), nil))
	}
	waitIdle(t, rt)

	assert.Equal(t, want, a.received())
}

func TestRuntime_HandlersOfOneAgentNeverOverlap(t *testing.T) {
	rt := New()
	a := register(t, rt, "worker")
	a.handle = func(context.Context, core.Message, *core.MessageContext) (core.Message, error) {
		time.Sleep(time.Millisecond)
		return nil, nil
	}
	require.NoError(t, rt.Subscribe(AgentSubscription{TopicType: "jobs", Agent: a.ID()}))
	require.NoError(t, rt.Start())

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_ = rt.Publish(context.Background(), textMessage{Text: fmt.Sprintf("%d-%d", p, i)}, core.NewTopicID("jobs", "r1"), nil)
			}
		}(p)
	}
	wg.Wait()
	waitIdle(t, rt)

	assert.Len(t, a.received(), 40)
	assert.Equal(t, 1, a.maxSeen)
}

func TestRuntime_PublishBeforeStartIsBuffered(t *testing.T) {
	rt := New()
	a := register(t, rt, "worker")
	require.NoError(t, rt.Subscribe(AgentSubscription{TopicType: "jobs", Agent: a.ID()}))

	require.NoError(t, rt.Publish(context.Background(), textMessage{Text: "early"}, core.NewTopicID("jobs", "r1"), nil))
	assert.Equal(t, 1, rt.Pending())
	assert.Empty(t, a.received())

	require.NoError(t, rt.Start())
	waitIdle(t, rt)
	assert.Equal(t, []string{"early"}, a.received())
}

func TestRuntime_OrphanPublish(t *testing.T) {
	var orphaned []core.TopicID
	rt := New()
	rt.Callbacks().Register(NewFunctionCallback(CallbackOnOrphan, func(_ context.Context, cc *CallbackContext) error {
		orphaned = append(orphaned, *cc.Topic)
		return nil
	}))
	require.NoError(t, rt.Start())

	err := rt.Publish(context.Background(), textMessage{Text: "lost"}, core.NewTopicID("nobody", "r1"), nil)
	require.NoError(t, err)
	waitIdle(t, rt)

	assert.Equal(t, int64(1), rt.OrphanCount())
	assert.Equal(t, []core.TopicID{core.NewTopicID("nobody", "r1")}, orphaned)
}

func TestRuntime_SenderExcludedByDefault(t *testing.T) {
	rt := New()
	a := register(t, rt, "worker")
	require.NoError(t, rt.Subscribe(AgentSubscription{TopicType: "jobs", Agent: a.ID()}))
	require.NoError(t, rt.Start())

	sender := a.ID()
	require.NoError(t, rt.Publish(context.Background(), textMessage{Text: "self"}, core.NewTopicID("jobs", "r1"), &sender))
	waitIdle(t, rt)

	assert.Empty(t, a.received())
	assert.Equal(t, int64(1), rt.OrphanCount())
}

func TestRuntime_DeliverToSender(t *testing.T) {
	rt := New(func(o *Options) { o.Config.DeliverToSender = true })
	a := register(t, rt, "worker")
	require.NoError(t, rt.Subscribe(AgentSubscription{TopicType: "jobs", Agent: a.ID()}))
	require.NoError(t, rt.Start())

	sender := a.ID()
	require.NoError(t, rt.Publish(context.Background(), textMessage{Text: "self"}, core.NewTopicID("jobs", "r1"), &sender))
	waitIdle(t, rt)

	assert.Equal(t, []string{"self"}, a.received())
}

func TestRuntime_DuplicateRegistration(t *testing.T) {
	rt := New()
	a := register(t, rt, "worker")

	calls := 0
	_, err := rt.Register("worker", "", func(id core.AgentID) (core.Agent, error) {
		calls++
		return newTestAgent(id), nil
	})

	var dup *core.DuplicateAgentError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, a.ID(), dup.ID)
	assert.Equal(t, 0, calls)
	assert.Equal(t, []core.AgentID{a.ID()}, rt.AgentIDs())

	require.NoError(t, rt.RegisterFactory("lazy", func(id core.AgentID) (core.Agent, error) { return newTestAgent(id), nil }))
	err = rt.RegisterFactory("lazy", func(id core.AgentID) (core.Agent, error) { return newTestAgent(id), nil })
	require.ErrorAs(t, err, &dup)
}

func TestRuntime_RegisterInstanceIDMismatch(t *testing.T) {
	rt := New()
	err := rt.RegisterInstance(core.NewAgentID("a", "1"), newTestAgent(core.NewAgentID("b", "1")))
	require.Error(t, err)
	assert.Empty(t, rt.AgentIDs())
}

func TestRuntime_SendUnknownRecipient(t *testing.T) {
	rt := New()
	a := register(t, rt, "worker")
	require.NoError(t, rt.Subscribe(AgentSubscription{TopicType: "jobs", Agent: a.ID()}))

	require.NoError(t, rt.Publish(context.Background(), textMessage{Text: "first"}, core.NewTopicID("jobs", "r1"), nil))
	require.NoError(t, rt.Publish(context.Background(), textMessage{Text: "second"}, core.NewTopicID("jobs", "r1"), nil))
	require.Equal(t, 2, rt.Pending())

	_, err := rt.Send(context.Background(), textMessage{Text: "x"}, core.NewAgentID("ghost", ""), nil)

	var unknown *core.UnknownRecipientError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, core.NewAgentID("ghost", ""), unknown.ID)
	assert.Equal(t, 2, rt.Pending())

	require.NoError(t, rt.Start())
	waitIdle(t, rt)
	assert.Equal(t, []string{"first", "second"}, a.received())
	assert.Equal(t, 0, rt.Pending())
}

func TestRuntime_SendReturnsReply(t *testing.T) {
	rt := New()
	echo := register(t, rt, "echo")
	echo.handle = func(_ context.Context, msg core.Message, _ *core.MessageContext) (core.Message, error) {
		return textMessage{Text: "re:" + msg.(textMessage).Text}, nil
	}
	require.NoError(t, rt.Start())

	reply, err := rt.Send(context.Background(), textMessage{Text: "ping"}, echo.ID(), nil)
	require.NoError(t, err)
	assert.Equal(t, textMessage{Text: "re:ping"}, reply)
}

func TestRuntime_SendFromHandler(t *testing.T) {
	rt := New()
	echo := register(t, rt, "echo")
	echo.handle = func(_ context.Context, msg core.Message, _ *core.MessageContext) (core.Message, error) {
		return textMessage{Text: "re:" + msg.(textMessage).Text}, nil
	}
	caller := register(t, rt, "caller")
	var replies []string
	caller.handle = func(ctx context.Context, msg core.Message, mctx *core.MessageContext) (core.Message, error) {
		r, err := mctx.Send(ctx, msg, echo.ID())
		if err != nil {
			return nil, err
		}
		replies = append(replies, r.(textMessage).Text)
		return nil, nil
	}
	require.NoError(t, rt.Subscribe(AgentSubscription{TopicType: "jobs", Agent: caller.ID()}))
	require.NoError(t, rt.Start())

	require.NoError(t, rt.Publish(context.Background(), textMessage{Text: "hi"}, core.NewTopicID("jobs", "r1"), nil))
	waitIdle(t, rt)

	assert.Equal(t, []string{"re:hi"}, replies)
}

func TestRuntime_SelfSend(t *testing.T) {
	rt := New()
	a := register(t, rt, "worker")
	sender := a.ID()

	_, err := rt.Send(context.Background(), textMessage{}, a.ID(), &sender)
	assert.ErrorIs(t, err, core.ErrSelfSend)
}

func TestRuntime_HandlerFailureIsIsolated(t *testing.T) {
	var reported []*core.HandlerError
	var mu sync.Mutex

	rt := New()
	rt.Callbacks().Register(NewFunctionCallback(CallbackOnError, func(_ context.Context, cc *CallbackContext) error {
		mu.Lock()
		reported = append(reported, cc.Err)
		mu.Unlock()
		return nil
	}))

	failing := register(t, rt, "failing")
	failing.handle = func(context.Context, core.Message, *core.MessageContext) (core.Message, error) {
		return nil, errors.New("boom")
	}
	panicking := register(t, rt, "panicking")
	panicking.handle = func(context.Context, core.Message, *core.MessageContext) (core.Message, error) {
		panic("kaboom")
	}
	healthy := register(t, rt, "healthy")

	for _, a := range []*testAgent{failing, panicking, healthy} {
		require.NoError(t, rt.Subscribe(AgentSubscription{TopicType: "jobs", Agent: a.ID()}))
	}
	require.NoError(t, rt.Start())

	require.NoError(t, rt.Publish(context.Background(), textMessage{Text: "1"}, core.NewTopicID("jobs", "r1"), nil))
	require.NoError(t, rt.Publish(context.Background(), textMessage{Text: "2"}, core.NewTopicID("jobs", "r1"), nil))
	waitIdle(t, rt)

	assert.Equal(t, []string{"1", "2"}, healthy.received())
	assert.Equal(t, []string{"1", "2"}, panicking.received())

	stats := rt.Stats()
	assert.Equal(t, int64(4), stats.Failed)
	assert.Equal(t, int64(2), stats.Delivered)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reported, 4)
	var sawPanic bool
	for _, herr := range reported {
		var perr *core.PanicError
		if errors.As(herr, &perr) {
			sawPanic = true
			assert.Equal(t, panicking.ID(), herr.Agent)
		}
	}
	assert.True(t, sawPanic)
}

func TestRuntime_UnhandledMessageIsNotAFailure(t *testing.T) {
	rt := New()
	a := register(t, rt, "worker")
	a.handle = func(context.Context, core.Message, *core.MessageContext) (core.Message, error) {
		return nil, core.ErrUnhandledMessage
	}
	require.NoError(t, rt.Subscribe(AgentSubscription{TopicType: "jobs", Agent: a.ID()}))
	require.NoError(t, rt.Start())

	require.NoError(t, rt.Publish(context.Background(), textMessage{}, core.NewTopicID("jobs", "r1"), nil))
	waitIdle(t, rt)

	assert.Equal(t, int64(0), rt.Stats().Failed)
}

func TestRuntime_LazyFactoryPerSource(t *testing.T) {
	rt := New()
	var mu sync.Mutex
	built := map[core.AgentID]*testAgent{}
	require.NoError(t, rt.RegisterFactory("stage", func(id core.AgentID) (core.Agent, error) {
		a := newTestAgent(id)
		mu.Lock()
		built[id] = a
		mu.Unlock()
		return a, nil
	}))
	require.NoError(t, rt.Subscribe(TypeSubscription{TopicType: "stage", AgentType: "stage"}))
	require.NoError(t, rt.Start())

	require.NoError(t, rt.Publish(context.Background(), textMessage{Text: "a"}, core.NewTopicID("stage", "run-a"), nil))
	require.NoError(t, rt.Publish(context.Background(), textMessage{Text: "b"}, core.NewTopicID("stage", "run-b"), nil))
	require.NoError(t, rt.Publish(context.Background(), textMessage{Text: "a2"}, core.NewTopicID("stage", "run-a"), nil))
	waitIdle(t, rt)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, built, 2)
	assert.Equal(t, []string{"a", "a2"}, built[core.NewAgentID("stage", "run-a")].received())
	assert.Equal(t, []string{"b"}, built[core.NewAgentID("stage", "run-b")].received())
	assert.Len(t, rt.AgentIDs(), 2)
}

func TestRuntime_TypePrefixSubscription(t *testing.T) {
	rt := New()
	var got []core.AgentID
	var mu sync.Mutex
	require.NoError(t, rt.RegisterFactory("audit", func(id core.AgentID) (core.Agent, error) {
		a := newTestAgent(id)
		a.handle = func(_ context.Context, _ core.Message, mctx *core.MessageContext) (core.Message, error) {
			mu.Lock()
			got = append(got, mctx.Recipient)
			mu.Unlock()
			return nil, nil
		}
		return a, nil
	}))
	require.NoError(t, rt.Subscribe(TypePrefixSubscription{Prefix: "sql_", AgentType: "audit"}))
	require.NoError(t, rt.Start())

	require.NoError(t, rt.Publish(context.Background(), textMessage{}, core.NewTopicID("sql_generator", "r1"), nil))
	require.NoError(t, rt.Publish(context.Background(), textMessage{}, core.NewTopicID("schema", "r1"), nil))
	waitIdle(t, rt)

	assert.Equal(t, []core.AgentID{core.NewAgentID("audit", "r1")}, got)
	assert.Equal(t, int64(1), rt.OrphanCount())
}

func TestRuntime_SubscriptionManagement(t *testing.T) {
	rt := New()
	sub := TypeSubscription{TopicType: "t", AgentType: "a"}
	require.NoError(t, rt.Subscribe(sub))
	require.Error(t, rt.Subscribe(sub))
	require.NoError(t, rt.Unsubscribe(sub.ID()))
	require.Error(t, rt.Unsubscribe(sub.ID()))
}

func TestRuntime_CancelledDeliveriesAreSkipped(t *testing.T) {
	token := core.NewCancellationToken(context.Background())
	rt := New(func(o *Options) { o.Token = token })

	block := make(chan struct{})
	a := register(t, rt, "worker")
	a.handle = func(ctx context.Context, msg core.Message, _ *core.MessageContext) (core.Message, error) {
		if msg.(textMessage).Text == "first" {
			<-block
		}
		return nil, nil
	}
	require.NoError(t, rt.Subscribe(AgentSubscription{TopicType: "jobs", Agent: a.ID()}))
	require.NoError(t, rt.Start())

	require.NoError(t, rt.Publish(context.Background(), textMessage{Text: "first"}, core.NewTopicID("jobs", "r1"), nil))
	require.NoError(t, rt.Publish(context.Background(), textMessage{Text: "second"}, core.NewTopicID("jobs", "r1"), nil))

	require.Eventually(t, func() bool { return len(a.received()) == 1 }, time.Second, time.Millisecond)
	token.Cancel()
	close(block)
	waitIdle(t, rt)

	assert.Equal(t, []string{"first"}, a.received())
	assert.Equal(t, int64(1), rt.Stats().Cancelled)
}

func TestRuntime_HandlerSeesCancellation(t *testing.T) {
	token := core.NewCancellationToken(context.Background())
	rt := New(func(o *Options) { o.Token = token })

	a := register(t, rt, "worker")
	started := make(chan struct{})
	a.handle = func(ctx context.Context, _ core.Message, mctx *core.MessageContext) (core.Message, error) {
		close(started)
		<-ctx.Done()
		assert.True(t, mctx.Cancelled())
		return nil, ctx.Err()
	}
	require.NoError(t, rt.Subscribe(AgentSubscription{TopicType: "jobs", Agent: a.ID()}))
	require.NoError(t, rt.Start())
	require.NoError(t, rt.Publish(context.Background(), textMessage{}, core.NewTopicID("jobs", "r1"), nil))

	<-started
	token.Cancel()
	waitIdle(t, rt)

	assert.Equal(t, int64(0), rt.Stats().Failed)
	assert.Equal(t, int64(1), rt.Stats().Cancelled)
}

func TestRuntime_StopWhenIdleTimesOut(t *testing.T) {
	rt := New()
	a := register(t, rt, "worker")
	block := make(chan struct{})
	a.handle = func(context.Context, core.Message, *core.MessageContext) (core.Message, error) {
		<-block
		return nil, nil
	}
	require.NoError(t, rt.Subscribe(AgentSubscription{TopicType: "jobs", Agent: a.ID()}))
	require.NoError(t, rt.Start())
	require.NoError(t, rt.Publish(context.Background(), textMessage{}, core.NewTopicID("jobs", "r1"), nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rt.StopWhenIdle(ctx), context.DeadlineExceeded)

	close(block)
	waitIdle(t, rt)
}

func TestRuntime_StopWhenSignal(t *testing.T) {
	token := core.NewCancellationToken(context.Background())
	rt := New(func(o *Options) { o.Token = token })
	require.NoError(t, rt.Start())

	done := make(chan error, 1)
	go func() { done <- rt.StopWhenSignal(context.Background(), nil) }()

	token.Cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("StopWhenSignal did not return")
	}
}

func TestRuntime_CloseReleasesAndIsIdempotent(t *testing.T) {
	rt := New()
	a := register(t, rt, "worker")
	b := register(t, rt, "other")
	require.NoError(t, rt.Start())

	require.NoError(t, rt.Close(context.Background()))
	require.NoError(t, rt.Close(context.Background()))

	assert.True(t, a.released)
	assert.True(t, b.released)
	assert.Empty(t, rt.AgentIDs())

	err := rt.Publish(context.Background(), textMessage{}, core.NewTopicID("jobs", "r1"), nil)
	assert.ErrorIs(t, err, core.ErrRuntimeClosed)
	_, err = rt.Register("late", "", func(id core.AgentID) (core.Agent, error) { return newTestAgent(id), nil })
	assert.ErrorIs(t, err, core.ErrRuntimeClosed)
}

func TestRuntime_CloseFailsQueuedSends(t *testing.T) {
	rt := New()
	a := register(t, rt, "worker")

	errCh := make(chan error, 1)
	go func() {
		_, err := rt.Send(context.Background(), textMessage{}, a.ID(), nil)
		errCh <- err
	}()
	require.Eventually(t, func() bool { return rt.Pending() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, rt.Close(context.Background()))
	assert.ErrorIs(t, <-errCh, core.ErrRuntimeClosed)
	assert.Equal(t, 0, rt.Pending())
}

func TestRuntime_CallbacksAroundDelivery(t *testing.T) {
	rt := New()
	var events []string
	var mu sync.Mutex
	record := func(name string) Callback {
		return NewFunctionCallback(CallbackType(name), func(_ context.Context, cc *CallbackContext) error {
			mu.Lock()
			events = append(events, string(cc.CallbackType)+":"+cc.Agent.String())
			mu.Unlock()
			return nil
		})
	}
	rt.Callbacks().Register(record(string(CallbackBeforeDeliver)))
	rt.Callbacks().Register(record(string(CallbackAfterDeliver)))

	a := register(t, rt, "worker")
	require.NoError(t, rt.Subscribe(AgentSubscription{TopicType: "jobs", Agent: a.ID()}))
	require.NoError(t, rt.Start())
	require.NoError(t, rt.Publish(context.Background(), textMessage{}, core.NewTopicID("jobs", "r1"), nil))
	waitIdle(t, rt)

	assert.Equal(t, []string{"before_deliver:worker/default", "after_deliver:worker/default"}, events)
}

func TestRuntime_MessageContextRouting(t *testing.T) {
	rt := New()
	var got *core.MessageContext
	a := register(t, rt, "worker")
	a.handle = func(_ context.Context, _ core.Message, mctx *core.MessageContext) (core.Message, error) {
		got = mctx
		return nil, nil
	}
	require.NoError(t, rt.Subscribe(AgentSubscription{TopicType: "jobs", Agent: a.ID()}))
	require.NoError(t, rt.Start())

	sender := core.NewAgentID("orchestrator", "")
	require.NoError(t, rt.Publish(context.Background(), textMessage{}, core.NewTopicID("jobs", "r1"), &sender))
	waitIdle(t, rt)

	require.NotNil(t, got)
	assert.Equal(t, a.ID(), got.Recipient)
	assert.Equal(t, sender, *got.Sender)
	assert.Equal(t, core.NewTopicID("jobs", "r1"), got.SourceTopic())
	assert.False(t, got.IsRPC)
	assert.NotEmpty(t, got.MessageID)
}

func TestRuntime_LogsDeliveries(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelDebug, Format: "text", Output: &buf})
	rt := New(func(o *Options) { o.Logger = logger })
	a := register(t, rt, "worker")
	a.handle = func(_ context.Context, msg core.Message, _ *core.MessageContext) (core.Message, error) {
		if msg.(textMessage).Text == "bad" {
			return nil, errors.New("boom")
		}
		return nil, nil
	}
	require.NoError(t, rt.Subscribe(AgentSubscription{TopicType: "jobs", Agent: a.ID()}))
	require.NoError(t, rt.Start())

	require.NoError(t, rt.Publish(context.Background(), textMessage{Text: "ok"}, core.NewTopicID("jobs", "r1"), nil))
	require.NoError(t, rt.Publish(context.Background(), textMessage{Text: "bad"}, core.NewTopicID("jobs", "r1"), nil))
	waitIdle(t, rt)

	out := buf.String()
	assert.Contains(t, out, "Delivery completed")
	assert.Contains(t, out, "Delivery failed")
	assert.Contains(t, out, "handler=")
	assert.Contains(t, out, "error=boom")
}

func TestLoggingCallback_DescribesOrphan(t *testing.T) {
	var lines []string
	rt := New()
	rt.Callbacks().Register(NewLoggingCallback(CallbackOnOrphan, func(m string) { lines = append(lines, m) }))
	require.NoError(t, rt.Start())

	require.NoError(t, rt.Publish(context.Background(), textMessage{Text: "lost"}, core.NewTopicID("nobody", "r1"), nil))
	waitIdle(t, rt)

	require.Len(t, lines, 1)
	assert.Equal(t, "[on_orphan] topic nobody/r1 kind=text", lines[0])
}
