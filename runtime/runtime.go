package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/querymesh/core"
	"github.com/hupe1980/querymesh/logging"
)

// Factory builds the agent for id. Factories registered with RegisterFactory
// run lazily on the agent's worker when its first message is delivered.
type Factory func(id core.AgentID) (core.Agent, error)

// Config defines tuning parameters for the runtime's delivery behaviour.
//
// Example:
//
//	cfg := Config{
//	    DeliverToSender:  false,
//	    MailboxWarnDepth: 512,
//	    HandlerTimeout:   30 * time.Second,
//	}
type Config struct {
	// DeliverToSender allows a publishing agent to receive its own message
	// when it is subscribed to the target topic. Off by default to avoid
	// self-loops.
	DeliverToSender bool

	// MailboxWarnDepth logs a warning whenever a mailbox grows past this
	// depth. Zero disables the warning.
	MailboxWarnDepth int

	// HandlerTimeout bounds a single handler invocation. Zero means the
	// handler is only bounded by the run's cancellation token.
	HandlerTimeout time.Duration
}

// DefaultConfig provides the runtime defaults.
var DefaultConfig = Config{
	DeliverToSender:  false,
	MailboxWarnDepth: 1024,
}

// Options configures a Runtime using the functional options pattern.
type Options struct {
	// Config contains delivery parameters. Defaults to DefaultConfig.
	Config Config

	// Token is the run-wide cancellation token threaded through every
	// message context. A fresh token is created when nil.
	Token *core.CancellationToken

	// Logger provides structured logging. Defaults to NoOpLogger.
	Logger logging.Logger

	// Callbacks receives delivery lifecycle hooks. A fresh manager is
	// created when nil.
	Callbacks *CallbackManager
}

// Stats is a snapshot of delivery counters.
type Stats struct {
	Published int64 `json:"published"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Orphans   int64 `json:"orphans"`
	Cancelled int64 `json:"cancelled"`
}

// Runtime is the message bus of one orchestration run. It owns the agent
// registry and the topic registry and delivers messages through per-agent
// FIFO mailboxes.
//
// Concurrency Model:
//   - Each agent has exactly one worker: at most one handler per agent runs
//     at a time, so agent-private state needs no locking
//   - Publish and Send only enqueue; neither runs a handler on the caller's
//     goroutine
//   - Deliveries published by one sender reach each recipient in publish
//     order; there is no global order across unrelated publishers
//
// Error Handling:
//   - Handler errors and panics are caught per delivery, logged with the
//     agent identity and handler name, reported to OnError callbacks and
//     never abort delivery to other recipients
//   - Bus misuse (duplicate registration, unknown recipient) is returned
//     immediately as a typed error and never retried
//
// A Runtime is created per run and discarded after Close; it must not be
// shared across requests.
type Runtime struct {
	config    Config
	token     *core.CancellationToken
	logger    logging.Logger
	callbacks *CallbackManager

	mu        sync.Mutex
	agents    map[core.AgentID]core.Agent
	order     []core.AgentID // registration / instantiation order, for Close
	factories map[string]Factory
	mailboxes map[core.AgentID]*mailbox
	subs      []Subscription
	subIDs    map[string]struct{}

	pending int
	idle    chan struct{} // closed while pending == 0

	running bool
	stopCh  chan struct{}
	workers sync.WaitGroup
	closed  bool

	published atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
	orphans   atomic.Int64
	cancelled atomic.Int64
}

var _ core.Runtime = (*Runtime)(nil)

// New creates a Runtime with sensible defaults and optional configuration.
//
// Examples:
//
//	// Minimal setup with all defaults
//	rt := runtime.New()
//
//	// Run-scoped token and logger
//	rt := runtime.New(func(o *runtime.Options) {
//	    o.Token = token
//	    o.Logger = logger
//	})
func New(optFns ...func(o *Options)) *Runtime {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Token == nil {
		opts.Token = core.NewCancellationToken(context.Background())
	}
	if opts.Callbacks == nil {
		opts.Callbacks = NewCallbackManager()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	idle := make(chan struct{})
	close(idle)

	return &Runtime{
		config:    opts.Config,
		token:     opts.Token,
		logger:    logging.Scoped(opts.Logger, "runtime"),
		callbacks: opts.Callbacks,
		agents:    make(map[core.AgentID]core.Agent),
		factories: make(map[string]Factory),
		mailboxes: make(map[core.AgentID]*mailbox),
		subIDs:    make(map[string]struct{}),
		idle:      idle,
	}
}

// Token returns the run-wide cancellation token.
func (rt *Runtime) Token() *core.CancellationToken { return rt.token }

// Callbacks returns the callback manager for registering lifecycle hooks.
func (rt *Runtime) Callbacks() *CallbackManager { return rt.callbacks }

// Register instantiates an agent of agentType under key and returns its
// identity. It fails with *core.DuplicateAgentError if the identity already
// exists; the existing registration is left untouched.
func (rt *Runtime) Register(agentType, key string, factory Factory) (core.AgentID, error) {
	id := core.NewAgentID(agentType, key)
	if err := id.Validate(); err != nil {
		return core.AgentID{}, err
	}

	rt.mu.Lock()
	if err := rt.checkRegisterLocked(id); err != nil {
		rt.mu.Unlock()
		return core.AgentID{}, err
	}
	rt.mu.Unlock()

	a, err := factory(id)
	if err != nil {
		return core.AgentID{}, fmt.Errorf("instantiate agent %s: %w", id, err)
	}
	if err := rt.RegisterInstance(id, a); err != nil {
		return core.AgentID{}, err
	}
	return id, nil
}

// RegisterInstance registers an already constructed agent under id.
func (rt *Runtime) RegisterInstance(id core.AgentID, a core.Agent) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if a.ID() != id {
		return fmt.Errorf("agent reports id %s, registered as %s", a.ID(), id)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if err := rt.checkRegisterLocked(id); err != nil {
		return err
	}
	rt.agents[id] = a
	rt.order = append(rt.order, id)
	mb := newMailbox(id, a, nil)
	rt.mailboxes[id] = mb
	if rt.running {
		rt.startWorkerLocked(mb)
	}
	rt.logger.Debug("agent registered", "agent", id.String())
	return nil
}

// RegisterFactory binds a lazy factory for agentType. Instances are created
// per key the first time a message is delivered to them, typically through
// a TypeSubscription.
func (rt *Runtime) RegisterFactory(agentType string, factory Factory) error {
	if err := (core.AgentID{Type: agentType, Key: "default"}).Validate(); err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.closed {
		return core.ErrRuntimeClosed
	}
	if _, exists := rt.factories[agentType]; exists {
		return &core.DuplicateAgentError{ID: core.AgentID{Type: agentType}}
	}
	rt.factories[agentType] = factory
	return nil
}

func (rt *Runtime) checkRegisterLocked(id core.AgentID) error {
	if rt.closed {
		return core.ErrRuntimeClosed
	}
	if _, exists := rt.agents[id]; exists {
		return &core.DuplicateAgentError{ID: id}
	}
	if _, exists := rt.mailboxes[id]; exists {
		// lazily bound instance already has deliveries queued
		return &core.DuplicateAgentError{ID: id}
	}
	return nil
}

// Subscribe adds a subscription. Subscriptions are matched in the order
// they were added.
func (rt *Runtime) Subscribe(sub Subscription) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.closed {
		return core.ErrRuntimeClosed
	}
	if _, exists := rt.subIDs[sub.ID()]; exists {
		return fmt.Errorf("subscription %s already exists", sub.ID())
	}
	rt.subs = append(rt.subs, sub)
	rt.subIDs[sub.ID()] = struct{}{}
	return nil
}

// Unsubscribe removes the subscription with the given id.
func (rt *Runtime) Unsubscribe(id string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	for i, s := range rt.subs {
		if s.ID() == id {
			rt.subs = append(rt.subs[:i:i], rt.subs[i+1:]...)
			delete(rt.subIDs, id)
			return nil
		}
	}
	return fmt.Errorf("subscription %s not found", id)
}

// Publish enqueues msg for every agent subscribed to topic, excluding the
// sender unless Config.DeliverToSender is set. It returns once the message
// is enqueued, not once it is delivered. A message matching no subscriber
// is dropped and counted as an orphan delivery.
func (rt *Runtime) Publish(ctx context.Context, msg core.Message, topic core.TopicID, sender *core.AgentID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return core.ErrRuntimeClosed
	}

	recipients := rt.resolveLocked(topic, sender)
	messageID := core.NewID()
	t := topic
	for _, mb := range recipients {
		rt.enqueueLocked(mb, &envelope{msg: msg, sender: sender, topic: &t, messageID: messageID})
	}
	rt.mu.Unlock()

	rt.published.Add(1)
	if len(recipients) == 0 {
		rt.orphans.Add(1)
		rt.logger.Debug("orphan delivery", "topic", topic.String(), "message_kind", string(msg.Kind()))
		_ = rt.callbacks.Execute(ctx, CallbackOnOrphan, &CallbackContext{
			Sender:  sender,
			Topic:   &t,
			Message: msg,
			Runtime: rt,
		})
	}
	return nil
}

// resolveLocked maps topic to recipient mailboxes in subscription order,
// deduplicated. Lazily bound agents get their mailbox created here.
func (rt *Runtime) resolveLocked(topic core.TopicID, sender *core.AgentID) []*mailbox {
	var out []*mailbox
	seen := make(map[core.AgentID]struct{})
	for _, sub := range rt.subs {
		if !sub.Matches(topic) {
			continue
		}
		id, err := sub.MapToAgent(topic)
		if err != nil {
			rt.logger.Warn("subscription mapping failed", "subscription", sub.ID(), "error", err.Error())
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if sender != nil && *sender == id && !rt.config.DeliverToSender {
			continue
		}
		mb, ok := rt.mailboxLocked(id)
		if !ok {
			rt.logger.Warn("subscription targets unregistered agent", "subscription", sub.ID(), "agent", id.String())
			continue
		}
		out = append(out, mb)
	}
	return out
}

// mailboxLocked returns the mailbox for id, creating one for a lazily bound
// agent type on first use.
func (rt *Runtime) mailboxLocked(id core.AgentID) (*mailbox, bool) {
	if mb, ok := rt.mailboxes[id]; ok {
		return mb, true
	}
	factory, ok := rt.factories[id.Type]
	if !ok {
		return nil, false
	}
	mb := newMailbox(id, nil, factory)
	rt.mailboxes[id] = mb
	if rt.running {
		rt.startWorkerLocked(mb)
	}
	return mb, true
}

func (rt *Runtime) enqueueLocked(mb *mailbox, env *envelope) {
	if rt.pending == 0 {
		rt.idle = make(chan struct{})
	}
	rt.pending++
	depth := mb.push(env)
	if rt.config.MailboxWarnDepth > 0 && depth > rt.config.MailboxWarnDepth {
		rt.logger.Warn("mailbox depth above threshold", "agent", mb.id.String(), "depth", depth)
	}
}

func (rt *Runtime) doneLocked() {
	rt.pending--
	if rt.pending == 0 {
		close(rt.idle)
	}
}

func (rt *Runtime) done() {
	rt.mu.Lock()
	rt.doneLocked()
	rt.mu.Unlock()
}

// Send delivers msg to recipient and waits for the handler's reply. It fails
// with *core.UnknownRecipientError when the recipient cannot be resolved; in
// that case no queue state is touched.
func (rt *Runtime) Send(ctx context.Context, msg core.Message, recipient core.AgentID, sender *core.AgentID) (core.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sender != nil && *sender == recipient {
		return nil, core.ErrSelfSend
	}

	env := &envelope{msg: msg, sender: sender, messageID: core.NewID(), reply: make(chan reply, 1)}

	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return nil, core.ErrRuntimeClosed
	}
	mb, ok := rt.mailboxLocked(recipient)
	if !ok {
		rt.mu.Unlock()
		return nil, &core.UnknownRecipientError{ID: recipient}
	}
	rt.enqueueLocked(mb, env)
	rt.mu.Unlock()
	rt.published.Add(1)

	select {
	case r := <-env.reply:
		return r.msg, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-rt.token.Done():
		return nil, rt.token.Err()
	}
}

// Start begins processing mailboxes. Deliveries enqueued before Start are
// buffered and processed once workers run.
func (rt *Runtime) Start() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.closed {
		return core.ErrRuntimeClosed
	}
	if rt.running {
		return errors.New("runtime already started")
	}
	rt.running = true
	rt.stopCh = make(chan struct{})
	for _, mb := range rt.mailboxes {
		rt.startWorkerLocked(mb)
	}
	rt.logger.Debug("runtime started", "agents", len(rt.mailboxes))
	return nil
}

func (rt *Runtime) startWorkerLocked(mb *mailbox) {
	stop := rt.stopCh
	rt.workers.Add(1)
	go func() {
		defer rt.workers.Done()
		for {
			// run is held across next and deliver so a worker started by a
			// later Start cannot overtake one that is still finishing.
			mb.run.Lock()
			env, ok := mb.next(stop)
			if !ok {
				mb.run.Unlock()
				return
			}
			rt.deliver(mb, env)
			mb.run.Unlock()
		}
	}()
}

// StopWhenIdle blocks until no delivery is queued or executing, then stops
// the workers. This is the normal termination signal of a run. It returns
// ctx's error if the deadline expires first; the runtime keeps running in
// that case.
func (rt *Runtime) StopWhenIdle(ctx context.Context) error {
	for {
		rt.mu.Lock()
		if rt.pending == 0 {
			rt.stopLocked()
			rt.mu.Unlock()
			return nil
		}
		idle := rt.idle
		rt.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// StopWhenSignal blocks until token is cancelled, then stops the workers.
// A nil token waits on the runtime's own token.
func (rt *Runtime) StopWhenSignal(ctx context.Context, token *core.CancellationToken) error {
	if token == nil {
		token = rt.token
	}
	select {
	case <-token.Done():
		rt.Stop()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops the workers after their current handler. Queued deliveries are
// kept and resume on the next Start.
func (rt *Runtime) Stop() {
	rt.mu.Lock()
	rt.stopLocked()
	rt.mu.Unlock()
}

func (rt *Runtime) stopLocked() {
	if !rt.running {
		return
	}
	rt.running = false
	close(rt.stopCh)
}

// Close stops the runtime, fails every queued direct send, releases all
// agents implementing core.Releaser (in registration order) and clears the
// registries. Close is idempotent. If ctx expires while handlers are still
// running, agents are released anyway and ctx's error is returned.
func (rt *Runtime) Close(ctx context.Context) error {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return nil
	}
	rt.closed = true
	rt.stopLocked()
	rt.mu.Unlock()

	var errs []error

	waited := make(chan struct{})
	go func() {
		rt.workers.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("wait for workers: %w", ctx.Err()))
	}

	rt.mu.Lock()
	mailboxes := rt.mailboxes
	agents := make([]core.Agent, 0, len(rt.order))
	for _, id := range rt.order {
		agents = append(agents, rt.agents[id])
	}
	rt.mailboxes = make(map[core.AgentID]*mailbox)
	rt.agents = make(map[core.AgentID]core.Agent)
	rt.factories = make(map[string]Factory)
	rt.subs = nil
	rt.subIDs = make(map[string]struct{})
	rt.order = nil
	rt.mu.Unlock()

	for _, mb := range mailboxes {
		for _, env := range mb.drain() {
			env.respond(nil, core.ErrRuntimeClosed)
			rt.done()
		}
	}

	for _, a := range agents {
		r, ok := a.(core.Releaser)
		if !ok {
			continue
		}
		if err := r.Release(ctx); err != nil {
			rt.logger.Warn("agent release failed", "agent", a.ID().String(), "error", err.Error())
			errs = append(errs, fmt.Errorf("release %s: %w", a.ID(), err))
		}
	}

	rt.logger.Debug("runtime closed")
	return errors.Join(errs...)
}

// OrphanCount returns the number of publishes that matched no subscriber.
func (rt *Runtime) OrphanCount() int64 { return rt.orphans.Load() }

// Pending returns the number of deliveries queued or executing.
func (rt *Runtime) Pending() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.pending
}

// AgentIDs returns the instantiated agents in registration order.
func (rt *Runtime) AgentIDs() []core.AgentID {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]core.AgentID, len(rt.order))
	copy(out, rt.order)
	return out
}

// Stats returns a snapshot of the delivery counters.
func (rt *Runtime) Stats() Stats {
	return Stats{
		Published: rt.published.Load(),
		Delivered: rt.delivered.Load(),
		Failed:    rt.failed.Load(),
		Orphans:   rt.orphans.Load(),
		Cancelled: rt.cancelled.Load(),
	}
}
