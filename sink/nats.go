package sink

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/hupe1980/querymesh/core"
	"github.com/hupe1980/querymesh/logging"
)

// DefaultSubjectPrefix is the subject prefix stream events are published under.
const DefaultSubjectPrefix = "querymesh.stream"

// NATSOptions configures a NATSPublisher.
type NATSOptions struct {
	// SubjectPrefix is prepended to every subject.
	SubjectPrefix string

	// Logger provides structured logging. Defaults to NoOpLogger.
	Logger logging.Logger
}

// NATSPublisher forwards stream events to NATS subjects of the form
// <prefix>.<key>, where key identifies a session or run.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger logging.Logger
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url string, optFns ...func(o *NATSOptions)) (*NATSPublisher, error) {
	opts := NATSOptions{
		SubjectPrefix: DefaultSubjectPrefix,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSPublisher{
		conn:   conn,
		prefix: strings.TrimSuffix(opts.SubjectPrefix, "."),
		logger: logging.Scoped(opts.Logger, "nats_sink"),
	}, nil
}

// Subject returns the subject events for key are published on.
func (p *NATSPublisher) Subject(key string) string {
	return p.prefix + "." + subjectToken(key)
}

// Callback returns a core.StreamCallback publishing to Subject(key). The
// terminal message is flushed so subscribers see it before the run returns.
func (p *NATSPublisher) Callback(key string) core.StreamCallback {
	subject := p.Subject(key)
	return func(sender core.AgentID, msg core.StreamMessage, _ *core.CancellationToken) {
		data, err := json.Marshal(NewEvent(sender, msg))
		if err != nil {
			p.logger.Warn("marshal stream event", "error", err.Error())
			return
		}
		if err := p.conn.Publish(subject, data); err != nil {
			p.logger.Warn("publish stream event", "subject", subject, "error", err.Error())
			return
		}
		if msg.IsFinal {
			if err := p.conn.Flush(); err != nil {
				p.logger.Warn("flush nats", "error", err.Error())
			}
		}
	}
}

// Flush waits until the server has processed everything published so far.
func (p *NATSPublisher) Flush() error { return p.conn.Flush() }

// Close flushes and closes the connection.
func (p *NATSPublisher) Close() error {
	err := p.conn.Flush()
	p.conn.Close()
	return err
}

// subjectToken makes key usable as a single subject token.
func subjectToken(key string) string {
	if key == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, key)
}

// EmbeddedNATS is an in-process NATS server for single binary deployments
// and tests.
type EmbeddedNATS struct {
	server *natsserver.Server
}

// StartEmbeddedNATS starts a server on host:port. A port of -1 picks a free
// port.
func StartEmbeddedNATS(host string, port int) (*EmbeddedNATS, error) {
	ns, err := natsserver.NewServer(&natsserver.Options{
		Host:   host,
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready")
	}
	return &EmbeddedNATS{server: ns}, nil
}

// ClientURL returns the URL clients connect to.
func (e *EmbeddedNATS) ClientURL() string { return e.server.ClientURL() }

// Close shuts the server down and waits for it to exit.
func (e *EmbeddedNATS) Close() {
	e.server.Shutdown()
	e.server.WaitForShutdown()
}
