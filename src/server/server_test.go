package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fasthttp/websocket"
	"github.com/orchestra-mcp/collab/config"
	"github.com/orchestra-mcp/collab/src/permissions"
	"github.com/orchestra-mcp/collab/src/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func newTestServer(t *testing.T, mutate func(*config.CollabConfig)) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	return New(cfg, prometheus.NewRegistry(), zerolog.Nop())
}

// serve runs s on an in-memory listener until the test ends.
func serve(t *testing.T, s *Server) *fasthttputil.InmemoryListener {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-errCh:
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
	})
	return ln
}

func dial(t *testing.T, ln *fasthttputil.InmemoryListener, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	d := websocket.Dialer{
		NetDial: func(_, _ string) (net.Conn, error) { return ln.Dial() },
	}
	conn, resp, err := d.Dial("ws://collab.test/ws", header)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func mustDial(t *testing.T, ln *fasthttputil.InmemoryListener) *websocket.Conn {
	t.Helper()
	conn, _, err := dial(t, ln, nil)
	require.NoError(t, err)
	return conn
}

func emit(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(types.Message{Event: event, Data: raw}))
}

// next reads frames until one with the given event and note arrives.
func next(t *testing.T, conn *websocket.Conn, event, noteID string) types.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg types.Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Event == event && msg.NoteID == noteID {
			return msg
		}
	}
}

func presenceIDs(t *testing.T, msg types.Message) []string {
	t.Helper()
	var ds []types.Descriptor
	require.NoError(t, json.Unmarshal(msg.Data, &ds))
	ids := make([]string, 0, len(ds))
	for _, d := range ds {
		ids = append(ids, d.UserID)
	}
	return ids
}

func doRequest(s *Server, uri string) *fasthttp.Response {
	var req fasthttp.Request
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(uri)
	var ctx fasthttp.RequestCtx
	ctx.Init(&req, nil, nil)
	s.srv.Handler(&ctx)
	resp := &fasthttp.Response{}
	ctx.Response.CopyTo(resp)
	return resp
}

func decodeBody(t *testing.T, resp *fasthttp.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(resp.Body(), &out))
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	resp := doRequest(s, "/health")
	assert.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	assert.Equal(t, "ok", decodeBody(t, resp)["status"])
}

func TestUpgradeRequired(t *testing.T) {
	s := newTestServer(t, nil)
	resp := doRequest(s, "/ws")
	assert.Equal(t, fasthttp.StatusUpgradeRequired, resp.StatusCode())
	assert.Equal(t, "upgrade_required", decodeBody(t, resp)["error"])
}

func TestAdminRoutesEmpty(t *testing.T) {
	s := newTestServer(t, nil)

	stats := decodeBody(t, doRequest(s, "/admin/stats"))
	assert.Equal(t, float64(0), stats["connections"])
	assert.Equal(t, float64(0), stats["rooms"])

	rooms := decodeBody(t, doRequest(s, "/admin/rooms"))
	assert.Equal(t, float64(0), rooms["count"])

	resp := doRequest(s, "/admin/rooms/nope/presence")
	assert.Equal(t, fasthttp.StatusNotFound, resp.StatusCode())
	assert.Equal(t, "room_not_found", decodeBody(t, resp)["error"])

	info := decodeBody(t, doRequest(s, "/ws/info"))
	assert.Equal(t, "/ws", info["endpoint"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	resp := doRequest(s, "/metrics")
	assert.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	assert.Contains(t, string(resp.Body()), "collab_hub_active_connections")
}

func TestWebSocketCollaboration(t *testing.T) {
	s := newTestServer(t, nil)
	ln := serve(t, s)
	c1 := mustDial(t, ln)
	c2 := mustDial(t, ln)

	emit(t, c1, types.EventJoinNote, types.JoinPayload{NoteID: "note1", User: &types.UserInfo{ID: "userX"}})
	assert.Equal(t, []string{"userX"}, presenceIDs(t, next(t, c1, types.EventPresence, "note1")))

	emit(t, c2, types.EventJoinNote, types.JoinPayload{NoteID: "note1", User: &types.UserInfo{ID: "userY"}})
	assert.Equal(t, []string{"userX", "userY"}, presenceIDs(t, next(t, c1, types.EventPresence, "note1")))
	assert.Equal(t, []string{"userX", "userY"}, presenceIDs(t, next(t, c2, types.EventPresence, "note1")))

	emit(t, c1, types.EventEditorChanges, map[string]any{
		"noteId": "note1",
		"delta":  map[string]any{"op": "insert", "pos": 4, "text": "hi"},
	})
	got := next(t, c2, types.EventEditorChanges, "note1")
	assert.JSONEq(t, `{"op":"insert","pos":4,"text":"hi"}`, string(got.Data))
	assert.NotEmpty(t, got.ClientID)

	stats := decodeBody(t, doRequest(s, "/admin/stats"))
	assert.Equal(t, float64(2), stats["connections"])
	assert.Equal(t, float64(1), stats["rooms"])
	assert.Equal(t, float64(2), stats["members"])

	presence := decodeBody(t, doRequest(s, "/admin/rooms/note1/presence"))
	assert.Len(t, presence["presence"], 2)

	// Closing c1 leaves c2 alone in the room.
	require.NoError(t, c1.Close())
	assert.Equal(t, []string{"userY"}, presenceIDs(t, next(t, c2, types.EventPresence, "note1")))
	require.Eventually(t, func() bool { return s.Service().ActiveConnections() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestMalformedFramesKeepConnection(t *testing.T) {
	s := newTestServer(t, nil)
	ln := serve(t, s)
	conn := mustDial(t, ln)

	for _, frame := range []string{`{"event":}`, `{"event":"join-note"`, ``, `"not an object"`} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
	}

	emit(t, conn, types.EventJoinNote, types.JoinPayload{NoteID: "note1", User: &types.UserInfo{ID: "userX"}})
	assert.Equal(t, []string{"userX"}, presenceIDs(t, next(t, conn, types.EventPresence, "note1")))
	assert.Equal(t, 1, s.Service().ActiveConnections())
}

func TestConnectionLimit(t *testing.T) {
	s := newTestServer(t, func(c *config.CollabConfig) { c.MaxConnections = 1 })
	ln := serve(t, s)
	mustDial(t, ln)
	require.Eventually(t, func() bool { return s.Service().ActiveConnections() == 1 },
		2*time.Second, 10*time.Millisecond)

	_, resp, err := dial(t, ln, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestOriginAllowList(t *testing.T) {
	s := newTestServer(t, func(c *config.CollabConfig) {
		c.AllowedOrigins = []string{"http://localhost:5173"}
	})
	ln := serve(t, s)

	_, resp, err := dial(t, ln, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, _, err = dial(t, ln, http.Header{"Origin": {"http://localhost:5173"}})
	require.NoError(t, err)
}

func TestAuthorizedJoins(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newTestServer(t, func(c *config.CollabConfig) {
		c.AuthorizeJoins = true
		c.Redis.Addr = mr.Addr()
	})
	mr.HSet("collab:note:n1:perm", "alice", permissions.LevelOwner)
	mr.HSet("collab:note:n2:perm", "bob", permissions.LevelView)
	ln := serve(t, s)

	alice := mustDial(t, ln)
	emit(t, alice, types.EventJoinNote, types.JoinPayload{NoteID: "n1", User: &types.UserInfo{ID: "alice"}})
	assert.Equal(t, []string{"alice"}, presenceIDs(t, next(t, alice, types.EventPresence, "n1")))

	bob := mustDial(t, ln)
	emit(t, bob, types.EventJoinNote, types.JoinPayload{NoteID: "n1", User: &types.UserInfo{ID: "bob"}})
	emit(t, bob, types.EventJoinNote, types.JoinPayload{NoteID: "n2", User: &types.UserInfo{ID: "bob"}})
	// Bob's n2 presence proves his earlier n1 join was already processed.
	assert.Equal(t, []string{"bob"}, presenceIDs(t, next(t, bob, types.EventPresence, "n2")))

	members, err := s.Service().GetPresence("n1")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "alice", members[0].UserID)
}

func TestServeFailsWithoutPermissionStore(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	s := newTestServer(t, func(c *config.CollabConfig) {
		c.AuthorizeJoins = true
		c.Redis.Addr = addr
	})

	err := s.Serve(context.Background(), fasthttputil.NewInmemoryListener())
	assert.ErrorIs(t, err, permissions.ErrStoreUnavailable)
}
