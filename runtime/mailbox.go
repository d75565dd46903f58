package runtime

import (
	"context"
	"sync"

	"github.com/hupe1980/querymesh/core"
)

// envelope is one queued delivery: a message plus its routing metadata.
type envelope struct {
	msg       core.Message
	sender    *core.AgentID
	topic     *core.TopicID
	messageID string
	reply     chan reply // non-nil for direct sends
}

type reply struct {
	msg core.Message
	err error
}

func (e *envelope) respond(msg core.Message, err error) {
	if e.reply == nil {
		return
	}
	// reply is buffered (size 1); a sender that gave up never blocks us.
	e.reply <- reply{msg: msg, err: err}
}

// mailbox is the per-agent FIFO queue of pending deliveries. The queue is
// unbounded so publishers never block; a single worker drains it.
type mailbox struct {
	id     core.AgentID
	mu     sync.Mutex
	queue  []*envelope
	signal chan struct{}
	run    sync.Mutex

	agent   core.Agent // nil until the lazy factory has run
	factory Factory
}

func newMailbox(id core.AgentID, agent core.Agent, factory Factory) *mailbox {
	return &mailbox{
		id:      id,
		agent:   agent,
		factory: factory,
		signal:  make(chan struct{}, 1),
	}
}

// push appends env and returns the new queue depth.
func (mb *mailbox) push(env *envelope) int {
	mb.mu.Lock()
	mb.queue = append(mb.queue, env)
	depth := len(mb.queue)
	mb.mu.Unlock()

	select {
	case mb.signal <- struct{}{}:
	default:
	}
	return depth
}

// next blocks until an envelope is available or stop is closed. Stop wins
// over queued work so that a stopped runtime does not start new handlers.
func (mb *mailbox) next(stop <-chan struct{}) (*envelope, bool) {
	for {
		select {
		case <-stop:
			return nil, false
		default:
		}

		mb.mu.Lock()
		if len(mb.queue) > 0 {
			env := mb.queue[0]
			mb.queue[0] = nil
			mb.queue = mb.queue[1:]
			mb.mu.Unlock()
			return env, true
		}
		mb.mu.Unlock()

		select {
		case <-mb.signal:
		case <-stop:
			return nil, false
		}
	}
}

// drain removes and returns every queued envelope.
func (mb *mailbox) drain() []*envelope {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	q := mb.queue
	mb.queue = nil
	return q
}

// instance returns the agent, running the lazy factory on first use.
func (mb *mailbox) instance(_ context.Context) (core.Agent, error) {
	if mb.agent != nil {
		return mb.agent, nil
	}
	a, err := mb.factory(mb.id)
	if err != nil {
		return nil, err
	}
	mb.agent = a
	return a, nil
}
