package dispatch

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dmitrijs2005/postbox/internal/logging"
	"github.com/dmitrijs2005/postbox/internal/protocol"
)

type recordingHandler struct {
	mu  sync.Mutex
	ops []string
}

func (h *recordingHandler) HandleRequest(_ context.Context, op string, conn net.Conn, r io.Reader) {
	h.mu.Lock()
	h.ops = append(h.ops, op)
	h.mu.Unlock()
	protocol.WriteReply(conn, protocol.RepSuccess)
}

func (h *recordingHandler) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.ops...)
}

func discardLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func startDispatcher(t *testing.T, h Handler) (*Dispatcher, string, context.CancelFunc, chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher("127.0.0.1:0", 10, 5, h, discardLogger())

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return d.Addr() != "" },
		2*time.Second, 10*time.Millisecond, "dispatcher never started listening")
	return d, d.Addr(), cancel, errCh
}

func TestDispatcher_RoutesOperationToHandler(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := &recordingHandler{}
	_, addr, cancel, errCh := startDispatcher(t, h)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	require.NoError(t, protocol.WriteString(conn, "REGISTER"))

	code, err := protocol.ReadReply(conn)
	require.NoError(t, err)
	assert.Equal(t, protocol.RepSuccess, code)
	conn.Close()

	assert.Equal(t, []string{"REGISTER"}, h.seen())

	cancel()
	require.NoError(t, <-errCh)
}

func TestDispatcher_ClosedWithoutOperation(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := &recordingHandler{}
	_, addr, cancel, errCh := startDispatcher(t, h)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	conn.Close()

	// a second, well-formed request still gets through
	conn, err = net.Dial("tcp", addr)
	require.NoError(t, err)
	require.NoError(t, protocol.WriteString(conn, "SEND"))
	_, err = protocol.ReadReply(conn)
	require.NoError(t, err)
	conn.Close()

	assert.Equal(t, []string{"SEND"}, h.seen())

	cancel()
	require.NoError(t, <-errCh)
}

func TestDispatcher_ConcurrentConnections(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := &recordingHandler{}
	_, addr, cancel, errCh := startDispatcher(t, h)

	const n = 30
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				return
			}
			defer conn.Close()
			if err := protocol.WriteString(conn, "CONNECT"); err != nil {
				return
			}
			protocol.ReadReply(conn)
		}()
	}
	wg.Wait()

	assert.Len(t, h.seen(), n)

	cancel()
	require.NoError(t, <-errCh)
}

func TestDispatcher_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := &recordingHandler{}
	_, addr, cancel, errCh := startDispatcher(t, h)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}

	_, err := net.Dial("tcp", addr)
	assert.Error(t, err, "listener must be closed after shutdown")
}

func TestDispatcher_BadAddress(t *testing.T) {
	d := NewDispatcher("256.0.0.1:-1", 10, 5, &recordingHandler{}, discardLogger())
	assert.Error(t, d.Run(context.Background()))
}
