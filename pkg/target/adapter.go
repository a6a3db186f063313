// Package target implements the downstream socket side of the proxy: a
// thin WebSocket wrapper (plainAdapter) and an optional Sakoya-translating
// wrapper around it (sakoyaAdapter), both satisfying the Adapter interface
// the proxy connection drives.
package target

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// RecvResultKind classifies the outcome of a single Recv call, modeling
// "read failed" and "peer closed" as ordinary data instead of relying on
// error-type inspection at every call site.
type RecvResultKind int

const (
	RecvFrame RecvResultKind = iota
	RecvClosed
	RecvError
)

// RecvResult is the outcome of one Adapter.Recv call.
type RecvResult struct {
	Kind RecvResultKind
	Data []byte
	Err  error
}

// Adapter is the uniform interface the proxy connection uses to talk to a
// downstream target, regardless of whether it is a plain OneBot socket or a
// Sakoya-dialect socket wrapped with translation.
type Adapter interface {
	// Send delivers a raw OneBot-shaped frame to the target. A Sakoya
	// adapter translates it first; a plain adapter writes it unchanged.
	Send(ctx context.Context, frame []byte) error
	// Recv blocks for the next frame from the target, translated back to
	// OneBot shape if this adapter wraps a Sakoya dialect target.
	Recv(ctx context.Context) RecvResult
	// Close closes the underlying socket. Safe to call more than once.
	Close() error
	// IsSakoya reports whether this adapter applies Sakoya translation,
	// used by the proxy to decide fan-out eligibility for meta-events and
	// passthrough-only actions.
	IsSakoya() bool
}

// A ping goes out every pingInterval; the read deadline, renewed on each
// pong, is one ping interval plus pingTimeout, so a ping left unanswered for
// pingTimeout ends the connection.
const (
	writeWait    = 10 * time.Second
	pingInterval = 300 * time.Second
	pingTimeout  = 60 * time.Second
	pongWait     = pingInterval + pingTimeout
)

// plainAdapter wraps a gorilla/websocket connection to a plain OneBot
// target with the concurrency-safe single-writer pattern every adapter in
// this package builds on.
type plainAdapter struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  sync.Once
	closeCh chan struct{}
}

// DialPlain opens a plain (non-Sakoya) target connection, propagating the
// given headers (typically Authorization) and starting the ping loop that
// keeps the connection alive.
func DialPlain(ctx context.Context, url string, headers map[string]string) (Adapter, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second, EnableCompression: true}
	header := toHTTPHeader(headers)
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("target: dialing %s: %w", url, err)
	}
	a := newPlainAdapter(conn)
	return a, nil
}

// WrapConn adapts an already-established gorilla/websocket connection
// (accepted server-side or dialed client-side) into a plain Adapter,
// starting the same ping loop DialPlain's connections get.
func WrapConn(conn *websocket.Conn) Adapter {
	return newPlainAdapter(conn)
}

func newPlainAdapter(conn *websocket.Conn) *plainAdapter {
	a := &plainAdapter{conn: conn, closeCh: make(chan struct{})}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go a.pingLoop()
	return a
}

func (a *plainAdapter) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.closeCh:
			return
		case <-ticker.C:
			a.writeMu.Lock()
			a.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := a.conn.WriteMessage(websocket.PingMessage, nil)
			a.writeMu.Unlock()
			if err != nil {
				log.Debug().Err(err).Msg("target: ping failed")
				return
			}
		}
	}
}

func (a *plainAdapter) Send(ctx context.Context, frame []byte) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	a.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return a.conn.WriteMessage(websocket.TextMessage, frame)
}

func (a *plainAdapter) Recv(ctx context.Context) RecvResult {
	_, data, err := a.conn.ReadMessage()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return RecvResult{Kind: RecvError, Err: err}
		}
		return RecvResult{Kind: RecvClosed, Err: err}
	}
	return RecvResult{Kind: RecvFrame, Data: data}
}

func (a *plainAdapter) Close() error {
	var err error
	a.closed.Do(func() {
		close(a.closeCh)
		a.writeMu.Lock()
		a.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		a.writeMu.Unlock()
		err = a.conn.Close()
	})
	return err
}

func (a *plainAdapter) IsSakoya() bool { return false }

func toHTTPHeader(headers map[string]string) http.Header {
	h := make(http.Header, len(headers))
	for k, v := range headers {
		h.Set(k, v)
	}
	return h
}
