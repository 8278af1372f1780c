package delivery

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/postbox/internal/logging"
	"github.com/dmitrijs2005/postbox/internal/protocol"
	"github.com/dmitrijs2005/postbox/internal/server/store"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// listenOnce accepts exactly one connection and returns the delimited fields
// read from it until the peer closes.
func listenOnce(t *testing.T) (rec *store.UserRecord, fields <-chan []string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.ParseUint(portStr, 10, 16)
	require.NoError(t, err)

	out := make(chan []string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(out)
			return
		}
		defer conn.Close()

		var got []string
		for {
			s, err := protocol.ReadString(conn, protocol.MaxFieldLen)
			if err != nil {
				break
			}
			got = append(got, s)
		}
		out <- got
	}()

	return &store.UserRecord{
		Username: "carol",
		Status:   store.StatusConnected,
		Addr:     host,
		Port:     uint16(port),
	}, out
}

func TestClient_PushMessage_WireOrder(t *testing.T) {
	rec, fields := listenOnce(t)
	c := NewClient(testLogger())

	msg := &store.PendingMessage{Recipient: "carol", Sender: "bob", ID: 42, Content: "hi there"}
	require.NoError(t, c.PushMessage(context.Background(), rec, msg))

	got := <-fields
	assert.Equal(t, []string{"SEND_MESSAGE", "bob", "42", "hi there"}, got)
}

func TestClient_PushAck_WireOrder(t *testing.T) {
	rec, fields := listenOnce(t)
	c := NewClient(testLogger())

	require.NoError(t, c.PushAck(context.Background(), rec, 7))

	got := <-fields
	assert.Equal(t, []string{"SEND_MESS_ACK", "7"}, got)
}

func TestClient_PushMessage_UnreachableEndpoint(t *testing.T) {
	// Grab a port and close it again so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	port, err := strconv.ParseUint(portStr, 10, 16)
	require.NoError(t, err)

	rec := &store.UserRecord{Username: "gone", Addr: host, Port: uint16(port)}
	c := NewClient(testLogger())

	err = c.PushMessage(context.Background(), rec, &store.PendingMessage{Sender: "bob", ID: 1, Content: "x"})
	assert.Error(t, err, "push to a closed endpoint must fail")

	err = c.PushAck(context.Background(), rec, 1)
	assert.Error(t, err)
}
