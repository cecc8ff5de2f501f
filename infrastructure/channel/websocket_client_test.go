package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"diagramsync/pkg/protocol"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu           sync.Mutex
	connects     int
	disconnects  int
	frames       []protocol.Frame
	onConnection func()
}

func (r *recorder) OnConnected() {
	r.mu.Lock()
	r.connects++
	fn := r.onConnection
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (r *recorder) OnDisconnected(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnects++
}

func (r *recorder) OnFrame(f protocol.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
}

func (r *recorder) counts() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connects, r.disconnects, len(r.frames)
}

// echoServer writes every received message back. The first closeAfter
// connections are dropped after one message.
func echoServer(t *testing.T, closeAfter int32) (*httptest.Server, *atomic.Value) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	var conns int32
	lastToken := &atomic.Value{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastToken.Store(r.URL.Query().Get("token"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := atomic.AddInt32(&conns, 1)
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
			if n <= closeAfter {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, lastToken
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestNewWebSocketChannel_RejectsBadURL(t *testing.T) {
	for _, raw := range []string{"http://example.com", "://nope", ""} {
		_, err := NewWebSocketChannel(ClientConfig{URL: raw}, nil)
		assert.Error(t, err, raw)
	}
}

func TestWebSocketChannel_SendAndReceive(t *testing.T) {
	srv, token := echoServer(t, 0)
	ch, err := NewWebSocketChannel(ClientConfig{URL: wsURL(srv), Token: "secret"}, zap.NewNop())
	require.NoError(t, err)

	rec := &recorder{}
	join, err := protocol.NewFrame(protocol.EventJoinDiagram, protocol.JoinDiagram{DocumentID: "doc-1", UserID: "alice"})
	require.NoError(t, err)
	rec.onConnection = func() { assert.True(t, ch.Send(join)) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ch.Run(ctx, rec)
	}()

	assert.Eventually(t, func() bool { _, _, n := rec.counts(); return n == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, ch.Connected())
	assert.Equal(t, "secret", token.Load())

	rec.mu.Lock()
	assert.Equal(t, protocol.EventJoinDiagram, rec.frames[0].Event)
	rec.mu.Unlock()

	cancel()
	<-done
	assert.False(t, ch.Connected())
	connects, disconnects, _ := rec.counts()
	assert.Equal(t, 1, connects)
	assert.Equal(t, 1, disconnects)
}

func TestWebSocketChannel_Reconnects(t *testing.T) {
	srv, _ := echoServer(t, 1)
	ch, err := NewWebSocketChannel(ClientConfig{URL: wsURL(srv), MinBackoff: 10 * time.Millisecond}, zap.NewNop())
	require.NoError(t, err)

	frame, err := protocol.NewFrame(protocol.EventJoinDiagram, protocol.JoinDiagram{DocumentID: "doc-1"})
	require.NoError(t, err)
	rec := &recorder{}
	rec.onConnection = func() { ch.Send(frame) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ch.Run(ctx, rec)

	assert.Eventually(t, func() bool {
		connects, disconnects, _ := rec.counts()
		return connects == 2 && disconnects == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketChannel_SendWhileDisconnected(t *testing.T) {
	ch, err := NewWebSocketChannel(ClientConfig{URL: "ws://127.0.0.1:1/ws"}, nil)
	require.NoError(t, err)

	frame, err := protocol.NewFrame(protocol.EventLeaveDiagram, protocol.LeaveDiagram{})
	require.NoError(t, err)
	assert.False(t, ch.Send(frame))
}

func TestWebSocketChannel_StopsWhileDialing(t *testing.T) {
	ch, err := NewWebSocketChannel(ClientConfig{URL: "ws://127.0.0.1:1/ws", MinBackoff: time.Hour}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ch.Run(ctx, &recorder{})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWebSocketChannel_BacksOffWhenServerClosesAtOnce(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var dials int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		atomic.AddInt32(&dials, 1)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "shutting down"))
		conn.Close()
	}))
	t.Cleanup(srv.Close)

	ch, err := NewWebSocketChannel(ClientConfig{
		URL:        wsURL(srv),
		MinBackoff: 100 * time.Millisecond,
		MaxBackoff: 400 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ch.Run(ctx, &recorder{})

	n := atomic.LoadInt32(&dials)
	assert.GreaterOrEqual(t, n, int32(2), "keeps reconnecting")
	assert.LessOrEqual(t, n, int32(6), "waits between reconnects")
}

func TestWebSocketChannel_WritesQueuedFramesBeforeClosing(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan protocol.Frame, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if frame, err := protocol.ParseFrame(msg); err == nil {
				received <- frame
			}
		}
	}))
	t.Cleanup(srv.Close)

	ch, err := NewWebSocketChannel(ClientConfig{URL: wsURL(srv)}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ch.Run(ctx, &recorder{})
	}()
	require.Eventually(t, ch.Connected, 2*time.Second, 5*time.Millisecond)

	leave, err := protocol.NewFrame(protocol.EventLeaveDiagram, protocol.LeaveDiagram{DocumentID: "doc-1", UserID: "alice"})
	require.NoError(t, err)
	require.True(t, ch.Send(leave))
	cancel()
	<-done

	select {
	case frame := <-received:
		assert.Equal(t, protocol.EventLeaveDiagram, frame.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("queued leave frame was not written before close")
	}
}
