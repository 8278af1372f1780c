// Package delivery implements the server's outbound side: pushing messages
// and delivery acknowledgements to a client's listening endpoint. One fresh
// connection per push, write-only, closed immediately; nothing is read back.
// A push is never retried here — on failure the caller falls back to the
// durable mailbox.
package delivery

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/dmitrijs2005/postbox/internal/logging"
	"github.com/dmitrijs2005/postbox/internal/protocol"
	"github.com/dmitrijs2005/postbox/internal/server/store"
)

// Client pushes protocol frames to user listening endpoints.
type Client struct {
	dialer net.Dialer
	logger logging.Logger
}

func NewClient(logger logging.Logger) *Client {
	return &Client{logger: logger.With("module", "delivery")}
}

func endpoint(rec *store.UserRecord) string {
	return net.JoinHostPort(rec.Addr, strconv.FormatUint(uint64(rec.Port), 10))
}

// PushMessage sends SEND_MESSAGE(sender, id, content) to the recipient's
// listening endpoint. Any dial or write failure is a delivery failure.
func (c *Client) PushMessage(ctx context.Context, rec *store.UserRecord, msg *store.PendingMessage) error {
	addr := endpoint(rec)

	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := protocol.WriteString(conn, protocol.OpSendMessage); err != nil {
		return err
	}
	if err := protocol.WriteString(conn, msg.Sender); err != nil {
		return err
	}
	if err := protocol.WriteUint(conn, uint64(msg.ID)); err != nil {
		return err
	}
	if err := protocol.WriteString(conn, msg.Content); err != nil {
		return err
	}

	c.logger.Debug(ctx, "pushed message", "to", rec.Username, "id", msg.ID)
	return nil
}

// PushAck sends SEND_MESS_ACK(id) to the original sender's listening
// endpoint. Fire and forget from the protocol's point of view; the error is
// surfaced only so callers can log it.
func (c *Client) PushAck(ctx context.Context, rec *store.UserRecord, id uint32) error {
	addr := endpoint(rec)

	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := protocol.WriteString(conn, protocol.OpSendMessAck); err != nil {
		return err
	}
	if err := protocol.WriteUint(conn, uint64(id)); err != nil {
		return err
	}

	c.logger.Debug(ctx, "pushed ack", "to", rec.Username, "id", id)
	return nil
}
