package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/querymesh"
	"github.com/hupe1980/querymesh/core"
	"github.com/hupe1980/querymesh/datasource"
	"github.com/hupe1980/querymesh/orchestrator"
	"github.com/hupe1980/querymesh/session"
	"github.com/hupe1980/querymesh/sink"
)

// fakeBackend answers by query text:
//
//	"ask"   asks for feedback and echoes the answer
//	"block" waits for cancellation
//	other   emits one process event and a success terminal
type fakeBackend struct {
	sessions *session.InMemoryStore
	conns    datasource.ConnectionStore
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		sessions: session.NewInMemoryStore(),
		conns: datasource.NewStaticStore(datasource.ConnectionInfo{
			ID: 1, Name: "sales", DBType: "sqlite", Database: "/data/sales.db", Password: "secret",
		}),
	}
}

func (f *fakeBackend) Sessions() *session.InMemoryStore        { return f.sessions }
func (f *fakeBackend) Connections() datasource.ConnectionStore { return f.conns }

func (f *fakeBackend) Query(ctx context.Context, req querymesh.Request, cb core.StreamCallback) (orchestrator.Result, error) {
	if req.SessionID == "" {
		req.SessionID = "generated"
	}
	cb = sink.Tee(nil, cb, f.sessions.Callback(req.SessionID, req.Query))
	res := orchestrator.Result{RunID: "run-1", SessionID: req.SessionID, State: core.RunIdle}
	sender := core.NewAgentID("sql_explainer", res.RunID)

	switch req.Query {
	case "ask":
		if req.Feedback == nil {
			cb(sender, core.NewErrorMessage("query_analyzer", "feedback disabled", true), nil)
			res.State = core.RunFailed
			return res, nil
		}
		answer, err := req.Feedback(ctx, "Which year?")
		if err != nil {
			cb(sender, core.NewErrorMessage("orchestrator", "Query was cancelled", true), nil)
			res.State = core.RunCancelled
			return res, nil
		}
		cb(sender, core.NewFinalMessage("sql_explainer", "year "+answer, nil), nil)
	case "block":
		cb(sender, core.NewStreamMessage("schema_retriever", "working"), nil)
		<-ctx.Done()
		cb(sender, core.NewErrorMessage("orchestrator", "Query was cancelled", true), nil)
		res.State = core.RunCancelled
	default:
		cb(sender, core.NewStreamMessage("schema_retriever", "Found 2 relevant tables"), nil)
		cb(sender, core.NewFinalMessage("sql_explainer", "answer", nil), nil)
	}
	return res, nil
}

func newTestServer(t *testing.T, b Backend) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(New(b).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/query"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) ServerFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var f ServerFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// readUntilDone collects frames up to and including the done frame.
func readUntilDone(t *testing.T, conn *websocket.Conn) []ServerFrame {
	t.Helper()
	var frames []ServerFrame
	for {
		f := read(t, conn)
		frames = append(frames, f)
		if f.Type == FrameDone || len(frames) > 20 {
			return frames
		}
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, newFakeBackend())
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListConnections_HidesSecrets(t *testing.T) {
	ts := newTestServer(t, newFakeBackend())
	resp, err := http.Get(ts.URL + "/api/connections")
	require.NoError(t, err)
	defer resp.Body.Close()

	var raw []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	require.Len(t, raw, 1)
	assert.Equal(t, "sales", raw[0]["name"])
	assert.NotContains(t, raw[0], "password")
}

func TestQueryWS_StreamsEvents(t *testing.T) {
	b := newFakeBackend()
	ts := newTestServer(t, b)
	conn := dial(t, ts)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameQuery, Query: "top products", SessionID: "s1"}))
	frames := readUntilDone(t, conn)

	require.Len(t, frames, 3)
	assert.Equal(t, FrameEvent, frames[0].Type)
	assert.Equal(t, "Found 2 relevant tables", frames[0].Event.Message.Content)
	assert.True(t, frames[1].Event.Message.IsFinal)
	assert.Equal(t, "sql_explainer/run-1", frames[1].Event.Sender)
	require.NotNil(t, frames[2].Result)
	assert.Equal(t, "s1", frames[2].Result.SessionID)
	assert.Equal(t, string(core.RunIdle), frames[2].Result.State)

	// the transcript is readable through the API
	resp, err := http.Get(ts.URL + "/api/sessions/s1")
	require.NoError(t, err)
	defer resp.Body.Close()
	var sess session.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sess))
	require.Len(t, sess.Turns, 1)
	assert.Len(t, sess.Turns[0].Messages, 2)
}

func TestQueryWS_SequentialQueries(t *testing.T) {
	ts := newTestServer(t, newFakeBackend())
	conn := dial(t, ts)

	for i := 0; i < 2; i++ {
		require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameQuery, Query: "q", SessionID: "s"}))
		frames := readUntilDone(t, conn)
		assert.Equal(t, FrameDone, frames[len(frames)-1].Type)
	}
}

func TestQueryWS_Feedback(t *testing.T) {
	ts := newTestServer(t, newFakeBackend())
	conn := dial(t, ts)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameQuery, Query: "ask", UserFeedbackEnabled: true}))
	f := read(t, conn)
	require.Equal(t, FrameFeedbackRequest, f.Type)
	assert.Equal(t, "Which year?", f.Question)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameFeedback, Content: "2023"}))
	frames := readUntilDone(t, conn)
	require.Len(t, frames, 2)
	assert.Equal(t, "year 2023", frames[0].Event.Message.Content)
}

func TestQueryWS_Cancel(t *testing.T) {
	ts := newTestServer(t, newFakeBackend())
	conn := dial(t, ts)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameQuery, Query: "block"}))
	assert.Equal(t, "working", read(t, conn).Event.Message.Content)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameCancel}))
	frames := readUntilDone(t, conn)
	require.Len(t, frames, 2)
	assert.Equal(t, core.StreamTypeError, frames[0].Event.Message.Type)
	assert.Equal(t, string(core.RunCancelled), frames[1].Result.State)
}

func TestQueryWS_RejectsQueryWhileRunning(t *testing.T) {
	ts := newTestServer(t, newFakeBackend())
	conn := dial(t, ts)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameQuery, Query: "block"}))
	assert.Equal(t, "working", read(t, conn).Event.Message.Content)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameQuery, Query: "top products"}))
	f := read(t, conn)
	assert.Equal(t, FrameError, f.Type)
	assert.Contains(t, f.Error, "already running")

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameCancel}))
	frames := readUntilDone(t, conn)
	assert.Equal(t, string(core.RunCancelled), frames[len(frames)-1].Result.State)

	// the rejected query was not queued behind the cancelled one
	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameQuery, Query: "ask", UserFeedbackEnabled: true}))
	assert.Equal(t, FrameFeedbackRequest, read(t, conn).Type)
}

func TestQueryWS_IgnoresFeedbackOutsideRun(t *testing.T) {
	ts := newTestServer(t, newFakeBackend())
	conn := dial(t, ts)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameFeedback, Content: "stale"}))
	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameQuery, Query: "ask", UserFeedbackEnabled: true}))
	require.Equal(t, FrameFeedbackRequest, read(t, conn).Type)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameFeedback, Content: "2023"}))
	frames := readUntilDone(t, conn)
	require.Len(t, frames, 2)
	assert.Equal(t, "year 2023", frames[0].Event.Message.Content)
}

func TestQueryWS_InvalidFrames(t *testing.T) {
	ts := newTestServer(t, newFakeBackend())
	conn := dial(t, ts)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: FrameQuery, Query: "   "}))
	f := read(t, conn)
	assert.Equal(t, FrameError, f.Type)
	assert.Contains(t, f.Error, "empty")

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: "shout"}))
	f = read(t, conn)
	assert.Equal(t, FrameError, f.Type)
	assert.Contains(t, f.Error, "shout")
}

func TestSessions_API(t *testing.T) {
	b := newFakeBackend()
	b.sessions.StartTurn("a", "first")
	ts := newTestServer(t, b)

	resp, err := http.Get(ts.URL + "/api/sessions")
	require.NoError(t, err)
	var list map[string][]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	assert.Equal(t, []string{"a"}, list["sessions"])

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/a", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/sessions/a")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
