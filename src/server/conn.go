package server

import (
	"encoding/json"
	"io"
	"time"

	"github.com/fasthttp/websocket"
)

// wsConn wraps fasthttp/websocket.Conn to satisfy types.Conn. Writes and
// pings come only from the client's write pump.
type wsConn struct {
	conn      *websocket.Conn
	writeWait time.Duration
	pongWait  time.Duration
}

func newWSConn(conn *websocket.Conn, readLimit int64, writeWait, pongWait time.Duration) *wsConn {
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &wsConn{conn: conn, writeWait: writeWait, pongWait: pongWait}
}

func (w *wsConn) WriteJSON(v any) error {
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.writeWait)); err != nil {
		return err
	}
	return w.conn.WriteJSON(v)
}

// ReadJSON reads one whole frame, then decodes it. Transport failures come
// from the read; a bad payload only ever yields a json decode error, so the
// caller can skip it and keep the connection. Any received frame counts as
// liveness.
func (w *wsConn) ReadJSON(v any) error {
	_, r, err := w.conn.NextReader()
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	_ = w.conn.SetReadDeadline(time.Now().Add(w.pongWait))
	return json.Unmarshal(data, v)
}

func (w *wsConn) Ping() error {
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.writeWait))
}

func (w *wsConn) Close() error { return w.conn.Close() }
