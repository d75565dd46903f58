package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/querymesh"
	"github.com/hupe1980/querymesh/core"
	"github.com/hupe1980/querymesh/logging"
	"github.com/hupe1980/querymesh/orchestrator"
	"github.com/hupe1980/querymesh/sink"
)

// Client frame types.
const (
	FrameQuery    = "query"
	FrameFeedback = "feedback"
	FrameCancel   = "cancel"
)

// Server frame types.
const (
	FrameEvent           = "event"
	FrameFeedbackRequest = "feedback_request"
	FrameDone            = "done"
	FrameError           = "error"
)

// ClientFrame is a message sent by the websocket client.
type ClientFrame struct {
	Type                string `json:"type"`
	Query               string `json:"query,omitempty"`
	ConnectionID        *int64 `json:"connectionId,omitempty"`
	SessionID           string `json:"sessionId,omitempty"`
	UserFeedbackEnabled bool   `json:"userFeedbackEnabled,omitempty"`
	Content             string `json:"content,omitempty"`
}

// ServerFrame is a message sent to the websocket client.
type ServerFrame struct {
	Type     string      `json:"type"`
	Event    *sink.Event `json:"event,omitempty"`
	Question string      `json:"question,omitempty"`
	Result   *RunSummary `json:"result,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// RunSummary reports the outcome of one query.
type RunSummary struct {
	RunID      string `json:"runId"`
	SessionID  string `json:"sessionId"`
	State      string `json:"state"`
	Orphans    int64  `json:"orphans"`
	DurationMS int64  `json:"durationMs"`
}

func newRunSummary(res orchestrator.Result) *RunSummary {
	return &RunSummary{
		RunID:      res.RunID,
		SessionID:  res.SessionID,
		State:      string(res.State),
		Orphans:    res.Orphans,
		DurationMS: res.Duration.Milliseconds(),
	}
}

// wsConn serialises writes; gorilla allows one concurrent writer.
type wsConn struct {
	conn    *websocket.Conn
	timeout time.Duration
	logger  logging.Logger

	mu sync.Mutex
}

func (c *wsConn) send(f ServerFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	if err := c.conn.WriteJSON(f); err != nil {
		c.logger.Debug("websocket write failed", "error", err.Error())
	}
}

// handleQueryWS runs one query at a time per connection. A second query
// frame while a run is active is rejected, as is feedback outside a run.
// Closing the socket cancels the active run.
func (s *Server) handleQueryWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err.Error())
		return
	}
	defer conn.Close()

	c := &wsConn{conn: conn, timeout: s.opts.WriteTimeout, logger: s.logger}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	queries := make(chan ClientFrame, 1)
	feedback := make(chan string, 1)

	var (
		runMu     sync.Mutex
		active    bool
		cancelRun context.CancelFunc
	)
	finish := func() {
		runMu.Lock()
		active = false
		cancelRun = nil
		runMu.Unlock()
	}

	go func() {
		defer cancel()
		defer close(queries)
		for {
			var f ClientFrame
			if err := conn.ReadJSON(&f); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Warn("websocket read failed", "error", err.Error())
				}
				return
			}
			switch f.Type {
			case FrameQuery:
				runMu.Lock()
				busy := active
				active = true
				runMu.Unlock()
				if busy {
					c.send(ServerFrame{Type: FrameError, Error: "a query is already running"})
					continue
				}
				queries <- f
			case FrameFeedback:
				runMu.Lock()
				running := active
				runMu.Unlock()
				if !running {
					continue
				}
				select {
				case feedback <- f.Content:
				default:
				}
			case FrameCancel:
				runMu.Lock()
				if cancelRun != nil {
					cancelRun()
				}
				runMu.Unlock()
			default:
				c.send(ServerFrame{Type: FrameError, Error: "unknown frame type: " + f.Type})
			}
		}
	}()

	for f := range queries {
		if strings.TrimSpace(f.Query) == "" {
			finish()
			c.send(ServerFrame{Type: FrameError, Error: "query must not be empty"})
			continue
		}

		select {
		case <-feedback:
		default:
		}

		runCtx, runCancel := context.WithCancel(ctx)
		runMu.Lock()
		cancelRun = runCancel
		runMu.Unlock()

		req := querymesh.Request{
			Query:               f.Query,
			ConnectionID:        f.ConnectionID,
			SessionID:           f.SessionID,
			UserFeedbackEnabled: f.UserFeedbackEnabled,
		}
		if f.UserFeedbackEnabled {
			req.Feedback = func(ctx context.Context, question string) (string, error) {
				c.send(ServerFrame{Type: FrameFeedbackRequest, Question: question})
				select {
				case answer := <-feedback:
					return answer, nil
				case <-ctx.Done():
					return "", ctx.Err()
				}
			}
		}

		res, err := s.backend.Query(runCtx, req, func(sender core.AgentID, msg core.StreamMessage, _ *core.CancellationToken) {
			ev := sink.NewEvent(sender, msg)
			c.send(ServerFrame{Type: FrameEvent, Event: &ev})
		})

		finish()
		runCancel()

		if err != nil {
			c.send(ServerFrame{Type: FrameError, Error: err.Error()})
			continue
		}
		c.send(ServerFrame{Type: FrameDone, Result: newRunSummary(res)})
	}
}
