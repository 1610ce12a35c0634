package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraphd/flowgraphd/internal/component"
)

type frameServer struct {
	mu     sync.Mutex
	frames [][]byte
	srv    *httptest.Server
}

func newFrameServer(t *testing.T) *frameServer {
	t.Helper()
	fs := &frameServer{}
	upgrader := websocket.Upgrader{}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, body, err := conn.ReadMessage()
			if err != nil {
				return
			}
			fs.mu.Lock()
			fs.frames = append(fs.frames, body)
			fs.mu.Unlock()
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *frameServer) wsURL() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *frameServer) snapshot() [][]byte {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([][]byte, len(fs.frames))
	copy(out, fs.frames)
	return out
}

func TestReactionDeliversFramesOverWebsocket(t *testing.T) {
	fs := newFrameServer(t)

	r := New("r1", Config{URL: fs.wsURL(), ReconnectInitialDelay: 5 * time.Millisecond})
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop(context.Background())

	require.NoError(t, r.Deliver(context.Background(), component.Payload{QueryID: "q1", Body: []byte(`{"a":1}`)}))

	require.Eventually(t, func() bool {
		return len(fs.snapshot()) >= 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, `{"a":1}`, string(fs.snapshot()[0]))
}

func TestReactionDeliverBlocksUntilContextDoneWhenSendBufferFull(t *testing.T) {
	r := New("r1", Config{URL: "ws://127.0.0.1:0", SendBuffer: 1, ReconnectInitialDelay: time.Hour})
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop(context.Background())

	require.NoError(t, r.Deliver(context.Background(), component.Payload{Body: []byte("first")}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.Deliver(ctx, component.Payload{Body: []byte("second")})
	assert.Error(t, err)
}

func TestReactionStopWaitsForConnectionLoopExit(t *testing.T) {
	fs := newFrameServer(t)
	r := New("r1", Config{URL: fs.wsURL()})
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Stop(context.Background()))
}
