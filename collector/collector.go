package collector

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/querymesh/agent"
	"github.com/hupe1980/querymesh/core"
	"github.com/hupe1980/querymesh/logging"
)

// AgentType is the agent type the collector registers under.
const AgentType = "stream_collector"

// Config defines buffering and flushing behaviour.
//
// Example:
//
//	cfg := Config{
//	    MaxBuffered:   256,
//	    FlushInterval: 50 * time.Millisecond,
//	    Coalesce:      true,
//	}
type Config struct {
	// MaxBuffered bounds the number of messages held before they are handed
	// to the callback. A full collector blocks its own handler until the
	// flusher drains it. Zero or less means unbounded.
	MaxBuffered int

	// FlushInterval is the period of the background flusher. Buffers are
	// also flushed immediately when the terminal message arrives.
	FlushInterval time.Duration

	// Coalesce concatenates adjacent partial chunks that share source and
	// message id into one callback invocation.
	Coalesce bool

	// RelayResponses converts ResponseMessage deliveries into message-type
	// stream events. When false they are ignored.
	RelayResponses bool
}

// DefaultConfig provides the collector defaults.
var DefaultConfig = Config{
	MaxBuffered:    256,
	FlushInterval:  50 * time.Millisecond,
	Coalesce:       true,
	RelayResponses: true,
}

// Options configures a Collector.
type Options struct {
	Config Config

	// Logger provides structured logging. Defaults to NoOpLogger.
	Logger logging.Logger
}

type entry struct {
	seq    uint64
	sender core.AgentID
	msg    core.StreamMessage
	token  *core.CancellationToken
}

// Collector is the sink agent of a run. It receives every StreamMessage
// published on the stream topic and relays it to an external callback in
// arrival order.
//
// Messages are held in per-source buffers and stamped with an arrival
// sequence; a flush merges all buffers by sequence, so the callback observes
// exactly the bus delivery order. The callback runs on the flusher (or on the
// caller of FlushAllBuffers), never inside the collector's handler, so a slow
// callback cannot stall delivery beyond the collector's bounded buffer.
type Collector struct {
	*agent.BaseAgent

	config   Config
	callback core.StreamCallback
	logger   logging.Logger

	mu       sync.Mutex
	buffers  map[string][]entry
	seq      uint64
	last     *entry // most recently buffered entry, for coalescing
	buffered int
	space    chan struct{} // closed on every flush that frees capacity

	flushMu sync.Mutex // serialises callback invocation

	signal      chan struct{}
	final       chan struct{}
	finalMsg    *core.StreamMessage
	delivered   atomic.Int64
	downgraded  atomic.Int64
	startOnce   sync.Once
	stopOnce    sync.Once
	stopCh      chan struct{}
	flusherDone chan struct{}
	started     atomic.Bool
}

var _ core.Releaser = (*Collector)(nil)

// New creates a collector relaying to callback.
func New(id core.AgentID, callback core.StreamCallback, optFns ...func(o *Options)) *Collector {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	c := &Collector{
		BaseAgent:   agent.NewBaseAgent(id),
		config:      opts.Config,
		callback:    callback,
		logger:      logging.Scoped(opts.Logger, "collector"),
		buffers:     make(map[string][]entry),
		space:       make(chan struct{}),
		signal:      make(chan struct{}, 1),
		final:       make(chan struct{}),
		stopCh:      make(chan struct{}),
		flusherDone: make(chan struct{}),
	}
	c.SetDescription("Relays stream events of a run to the client callback")

	agent.On(c.BaseAgent, "relay_stream", func(ctx context.Context, m core.StreamMessage, mctx *core.MessageContext) (core.Message, error) {
		return nil, c.accept(ctx, mctx, m)
	})
	if c.config.RelayResponses {
		agent.On(c.BaseAgent, "relay_response", func(ctx context.Context, m core.ResponseMessage, mctx *core.MessageContext) (core.Message, error) {
			return nil, c.accept(ctx, mctx, m.ToStream())
		})
	}
	return c
}

// Start launches the background flusher. It is a no-op after the first call.
func (c *Collector) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.started.Store(true)
		go c.run(ctx)
	})
}

func (c *Collector) run(ctx context.Context) {
	defer close(c.flusherDone)

	interval := c.config.FlushInterval
	if interval <= 0 {
		interval = DefaultConfig.FlushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.signal:
			c.FlushAllBuffers()
		case <-ticker.C:
			if c.Buffered() > 0 {
				c.FlushAllBuffers()
			}
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Collector) notify() {
	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// accept buffers one stream message, applying the single-final guard,
// coalescing and backpressure.
func (c *Collector) accept(ctx context.Context, mctx *core.MessageContext, sm core.StreamMessage) error {
	var sender core.AgentID
	if mctx.Sender != nil {
		sender = *mctx.Sender
	}

	if err := c.waitForSpace(ctx, mctx.Token); err != nil {
		return err
	}

	c.mu.Lock()
	isFinal, downgraded := false, false
	if sm.IsFinal {
		if c.finalMsg != nil {
			sm.IsFinal = false
			downgraded = true
		} else {
			fm := sm
			c.finalMsg = &fm
			isFinal = true
		}
	}

	if !c.coalesceLocked(sender, sm) {
		c.seq++
		c.buffers[sm.Source] = append(c.buffers[sm.Source], entry{seq: c.seq, sender: sender, msg: sm, token: mctx.Token})
		buf := c.buffers[sm.Source]
		c.last = &buf[len(buf)-1]
		c.buffered++
	}
	c.mu.Unlock()

	if downgraded {
		c.downgraded.Add(1)
		c.logger.Warn("additional terminal message downgraded",
			"source", sm.Source,
			"message_id", sm.MessageID,
		)
	}
	if isFinal {
		close(c.final)
		c.notify()
	}
	return nil
}

// coalesceLocked appends sm to the previous entry when both are partial
// chunks of the same source and message id and nothing arrived in between.
func (c *Collector) coalesceLocked(sender core.AgentID, sm core.StreamMessage) bool {
	if !c.config.Coalesce || !sm.Partial || c.last == nil {
		return false
	}
	prev := &c.last.msg
	if !prev.Partial || prev.Source != sm.Source || prev.MessageID != sm.MessageID || c.last.sender != sender {
		return false
	}
	prev.Content += sm.Content
	prev.Timestamp = sm.Timestamp
	if sm.IsFinal {
		prev.IsFinal = true
		prev.Result = sm.Result
		prev.Partial = false
	}
	return true
}

// waitForSpace blocks while the buffer is at capacity. Without a running
// flusher the caller drains the buffer itself.
func (c *Collector) waitForSpace(ctx context.Context, token *core.CancellationToken) error {
	if c.config.MaxBuffered <= 0 {
		return nil
	}
	for {
		c.mu.Lock()
		if c.buffered < c.config.MaxBuffered {
			c.mu.Unlock()
			return nil
		}
		space := c.space
		c.mu.Unlock()

		if !c.started.Load() {
			c.FlushAllBuffers()
			continue
		}
		c.notify()

		var cancelled <-chan struct{}
		if token != nil {
			cancelled = token.Done()
		}
		select {
		case <-space:
		case <-c.flusherDone:
			// flusher gone; drain synchronously
			c.FlushAllBuffers()
		case <-cancelled:
			return token.Err()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// FlushAllBuffers synchronously hands every buffered message to the callback
// in arrival order and returns how many callback invocations it made. Calls
// are serialised; a second call right after the first delivers nothing.
func (c *Collector) FlushAllBuffers() int {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()
	return c.flushLocked()
}

// tryFlush flushes unless another flush is in progress. It returns false
// when the flush was skipped.
func (c *Collector) tryFlush() bool {
	if !c.flushMu.TryLock() {
		return false
	}
	defer c.flushMu.Unlock()
	c.flushLocked()
	return true
}

func (c *Collector) flushLocked() int {
	c.mu.Lock()
	if c.buffered == 0 {
		c.mu.Unlock()
		return 0
	}
	entries := make([]entry, 0, c.buffered)
	for _, buf := range c.buffers {
		entries = append(entries, buf...)
	}
	c.buffers = make(map[string][]entry)
	c.last = nil
	c.buffered = 0
	close(c.space)
	c.space = make(chan struct{})
	c.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	for _, e := range entries {
		c.invoke(e)
	}
	return len(entries)
}

func (c *Collector) invoke(e entry) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("stream callback panicked",
				"source", e.msg.Source,
				"error", (&core.PanicError{Value: r}).Error(),
			)
		}
	}()
	if c.callback != nil {
		c.callback(e.sender, e.msg, e.token)
	}
	c.delivered.Add(1)
}

// Release flushes what is left and stops the flusher. It implements
// core.Releaser and is safe to call more than once. Once ctx is done the
// final flush only runs if no callback is still in progress.
func (c *Collector) Release(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	if c.started.Load() {
		select {
		case <-c.flusherDone:
		case <-ctx.Done():
			c.releaseExpired()
			return errors.Join(ctx.Err(), c.BaseAgent.Release(ctx))
		}
	}
	if ctx.Err() != nil {
		c.releaseExpired()
		return c.BaseAgent.Release(ctx)
	}
	c.FlushAllBuffers()
	return c.BaseAgent.Release(ctx)
}

func (c *Collector) releaseExpired() {
	if !c.tryFlush() {
		c.logger.Warn("final flush skipped, stream callback still running", "buffered", c.Buffered())
	}
}

// Final is closed once the first terminal message has been received.
func (c *Collector) Final() <-chan struct{} { return c.final }

// FinalSeen reports whether a terminal message has been received.
func (c *Collector) FinalSeen() bool {
	select {
	case <-c.final:
		return true
	default:
		return false
	}
}

// FinalMessage returns the terminal message, if one was received.
func (c *Collector) FinalMessage() (core.StreamMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalMsg == nil {
		return core.StreamMessage{}, false
	}
	return *c.finalMsg, true
}

// Delivered returns the number of callback invocations so far.
func (c *Collector) Delivered() int64 { return c.delivered.Load() }

// Downgraded returns how many additional terminal messages were downgraded.
func (c *Collector) Downgraded() int64 { return c.downgraded.Load() }

// Buffered returns the number of messages waiting for a flush.
func (c *Collector) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffered
}
