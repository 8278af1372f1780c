// Package service implements the request/reply protocol: the five inbound
// operations plus the mailbox flush that follows a successful CONNECT.
//
// Each handler owns the remainder of the byte-level exchange on its
// connection: it decodes the operation's fields, runs the domain logic
// against the store, writes the one-byte reply, and (for SEND and CONNECT)
// pushes to listening endpoints through the delivery client. Transport
// failures abort the request silently; storage and delivery failures are
// absorbed into reply codes and never propagate past the handler.
package service

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/dmitrijs2005/postbox/internal/common"
	"github.com/dmitrijs2005/postbox/internal/logging"
	"github.com/dmitrijs2005/postbox/internal/protocol"
	"github.com/dmitrijs2005/postbox/internal/server/store"
)

// Pusher is the outbound delivery surface the service needs. Satisfied by
// delivery.Client; tests substitute a stub.
type Pusher interface {
	PushMessage(ctx context.Context, rec *store.UserRecord, msg *store.PendingMessage) error
	PushAck(ctx context.Context, rec *store.UserRecord, id uint32) error
}

// Service routes decoded requests to their handlers.
type Service struct {
	store  store.Store
	pusher Pusher
	logger logging.Logger
	locks  *userLocks
}

func NewService(st store.Store, pusher Pusher, logger logging.Logger) *Service {
	return &Service{
		store:  st,
		pusher: pusher,
		logger: logger.With("module", "service"),
		locks:  newUserLocks(),
	}
}

// HandleRequest serves exactly one decoded operation on conn. Unknown
// operation codes are dropped without a reply; the dispatcher closes the
// connection in every case.
func (s *Service) HandleRequest(ctx context.Context, op string, conn net.Conn, r io.Reader) {
	switch op {
	case protocol.OpRegister:
		s.register(ctx, conn, r)
	case protocol.OpUnregister:
		s.unregister(ctx, conn, r)
	case protocol.OpConnect:
		s.connect(ctx, conn, r)
	case protocol.OpDisconnect:
		s.disconnect(ctx, conn, r)
	case protocol.OpSend:
		s.send(ctx, conn, r)
	default:
		s.logger.Debug(ctx, "unknown operation dropped", "op", op)
	}
}

func (s *Service) reply(ctx context.Context, conn net.Conn, code byte) bool {
	if err := protocol.WriteReply(conn, code); err != nil {
		s.logger.Debug(ctx, "reply write failed", "err", err)
		return false
	}
	return true
}

func (s *Service) register(ctx context.Context, conn net.Conn, r io.Reader) {
	username, err := protocol.ReadString(r, protocol.MaxFieldLen)
	if err != nil {
		return
	}

	mu := s.locks.lock(username)
	code := protocol.RepSuccess
	err = s.store.Create(ctx, &store.UserRecord{Username: username})
	switch {
	case err == nil:
	case errors.Is(err, common.ErrorExists):
		code = protocol.RepRegisterAlreadyRegistered
	default:
		s.logger.Error(ctx, "register failed", "username", username, "err", err)
		code = protocol.RepRegisterFail
	}
	mu.Unlock()

	s.logOutcome(ctx, protocol.OpRegister, username, code)
	s.reply(ctx, conn, code)
}

func (s *Service) unregister(ctx context.Context, conn net.Conn, r io.Reader) {
	username, err := protocol.ReadString(r, protocol.MaxFieldLen)
	if err != nil {
		return
	}

	mu := s.locks.lock(username)
	code := protocol.RepSuccess
	err = s.store.Delete(ctx, username)
	switch {
	case err == nil:
	case errors.Is(err, common.ErrorNotFound):
		code = protocol.RepUnregisterNotExists
	default:
		s.logger.Error(ctx, "unregister failed", "username", username, "err", err)
		code = protocol.RepUnregisterFail
	}
	mu.Unlock()

	s.logOutcome(ctx, protocol.OpUnregister, username, code)
	s.reply(ctx, conn, code)
}

func (s *Service) connect(ctx context.Context, conn net.Conn, r io.Reader) {
	username, err := protocol.ReadString(r, protocol.MaxFieldLen)
	if err != nil {
		return
	}
	portStr, err := protocol.ReadString(r, protocol.MaxFieldLen)
	if err != nil {
		return
	}

	mu := s.locks.lock(username)
	defer mu.Unlock()

	code := protocol.RepSuccess
	rec, err := s.store.Read(ctx, username)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		code = protocol.RepConnectNotExists
	case err != nil:
		s.logger.Error(ctx, "connect read failed", "username", username, "err", err)
		code = protocol.RepConnectFail
	case rec.Status == store.StatusConnected:
		code = protocol.RepConnectAlreadyConnected
	default:
		port, perr := protocol.ParsePort(portStr)
		host, herr := peerHost(conn)
		if perr != nil || herr != nil {
			code = protocol.RepConnectFail
			break
		}

		rec.Status = store.StatusConnected
		rec.Addr = host
		rec.Port = port

		merr := s.store.Modify(ctx, rec)
		switch {
		case merr == nil:
		case errors.Is(merr, common.ErrorNotFound):
			code = protocol.RepConnectNotExists
		default:
			s.logger.Error(ctx, "connect update failed", "username", username, "err", merr)
			code = protocol.RepConnectFail
		}
	}

	s.logOutcome(ctx, protocol.OpConnect, username, code)
	s.reply(ctx, conn, code)

	// The reply is already on the wire; pending messages go to the freshly
	// registered listening endpoint, not to this connection.
	if code == protocol.RepSuccess {
		s.flushMailbox(ctx, rec)
	}
}

func (s *Service) disconnect(ctx context.Context, conn net.Conn, r io.Reader) {
	username, err := protocol.ReadString(r, protocol.MaxFieldLen)
	if err != nil {
		return
	}

	mu := s.locks.lock(username)
	code := protocol.RepSuccess
	rec, err := s.store.Read(ctx, username)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		code = protocol.RepDisconnectNotExists
	case err != nil:
		s.logger.Error(ctx, "disconnect read failed", "username", username, "err", err)
		code = protocol.RepDisconnectFail
	case rec.Status == store.StatusDisconnected:
		code = protocol.RepDisconnectNotConnected
	default:
		rec.Status = store.StatusDisconnected
		rec.Addr = ""
		rec.Port = 0

		merr := s.store.Modify(ctx, rec)
		switch {
		case merr == nil:
		case errors.Is(merr, common.ErrorNotFound):
			code = protocol.RepDisconnectNotExists
		default:
			s.logger.Error(ctx, "disconnect update failed", "username", username, "err", merr)
			code = protocol.RepDisconnectFail
		}
	}
	mu.Unlock()

	s.logOutcome(ctx, protocol.OpDisconnect, username, code)
	s.reply(ctx, conn, code)
}

func (s *Service) send(ctx context.Context, conn net.Conn, r io.Reader) {
	sender, err := protocol.ReadString(r, protocol.MaxFieldLen)
	if err != nil {
		return
	}
	recipient, err := protocol.ReadString(r, protocol.MaxFieldLen)
	if err != nil {
		return
	}
	content, err := protocol.ReadString(r, protocol.MaxContentLen)
	if err != nil {
		return
	}

	if code := s.checkSendUsers(ctx, sender, recipient); code != protocol.RepSuccess {
		s.logOutcome(ctx, protocol.OpSend, sender, code)
		s.reply(ctx, conn, code)
		return
	}

	mu := s.locks.lock(recipient)

	rec, err := s.store.Read(ctx, recipient)
	if err != nil {
		mu.Unlock()
		s.logger.Error(ctx, "send: recipient read failed", "recipient", recipient, "err", err)
		s.reply(ctx, conn, protocol.RepSendFail)
		return
	}

	// The id is assigned and persisted before any delivery attempt.
	rec.LastMessageID = protocol.NextMessageID(rec.LastMessageID)
	if err := s.store.Modify(ctx, rec); err != nil {
		mu.Unlock()
		s.logger.Error(ctx, "send: id update failed", "recipient", recipient, "err", err)
		s.reply(ctx, conn, protocol.RepSendFail)
		return
	}

	msg := &store.PendingMessage{
		Recipient: recipient,
		Sender:    sender,
		ID:        rec.LastMessageID,
		Content:   content,
	}

	code := protocol.RepSuccess
	delivered := false

	if rec.Status == store.StatusConnected {
		if perr := s.pusher.PushMessage(ctx, rec, msg); perr != nil {
			// Recipient presumed gone; force the transition and fall back to
			// the mailbox.
			rec.Status = store.StatusDisconnected
			if merr := s.store.Modify(ctx, rec); merr != nil {
				s.logger.Error(ctx, "send: forced disconnect failed", "recipient", recipient, "err", merr)
				code = protocol.RepSendFail
			}
		} else {
			delivered = true
			s.logger.Info(ctx, "message delivered",
				"id", msg.ID, "from", sender, "to", recipient)
		}
	}

	if !delivered && code == protocol.RepSuccess {
		if cerr := s.store.CreatePending(ctx, msg); cerr != nil {
			s.logger.Error(ctx, "send: store pending failed", "recipient", recipient, "err", cerr)
			code = protocol.RepSendFail
		} else {
			s.logger.Info(ctx, "message stored",
				"id", msg.ID, "from", sender, "to", recipient)
		}
	}

	mu.Unlock()

	if !s.reply(ctx, conn, code) {
		return
	}
	if code == protocol.RepSuccess {
		if err := protocol.WriteUint(conn, uint64(msg.ID)); err != nil {
			s.logger.Debug(ctx, "message id write failed", "err", err)
			return
		}
	}

	if delivered {
		s.ackSender(ctx, sender, msg.ID)
	}
}

// checkSendUsers validates that both parties of a SEND are registered.
// Storage errors outrank the not-exists code.
func (s *Service) checkSendUsers(ctx context.Context, sender, recipient string) byte {
	senderExists, serr := s.store.Exists(ctx, sender)
	recipientExists, rerr := s.store.Exists(ctx, recipient)

	if serr != nil || rerr != nil {
		s.logger.Error(ctx, "send: existence check failed",
			"sender", sender, "recipient", recipient, "err", errors.Join(serr, rerr))
		return protocol.RepSendFail
	}
	if !senderExists || !recipientExists {
		return protocol.RepSendNotExists
	}
	return protocol.RepSuccess
}

// flushMailbox drains the user's pending messages through the delivery
// client, lowest id first. On the first delivery failure the user is forced
// DISCONNECTED and the rest of the mailbox stays queued for a future CONNECT.
func (s *Service) flushMailbox(ctx context.Context, rec *store.UserRecord) {
	for {
		msg, err := s.store.NextPending(ctx, rec.Username)
		if errors.Is(err, common.ErrorNotFound) {
			return
		}
		if err != nil {
			s.logger.Error(ctx, "mailbox read failed", "username", rec.Username, "err", err)
			return
		}

		if perr := s.pusher.PushMessage(ctx, rec, msg); perr != nil {
			rec.Status = store.StatusDisconnected
			if merr := s.store.Modify(ctx, rec); merr != nil {
				s.logger.Error(ctx, "flush: forced disconnect failed", "username", rec.Username, "err", merr)
			}
			s.logger.Warn(ctx, "flush aborted, messages stay queued",
				"username", rec.Username, "err", perr)
			return
		}

		s.logger.Info(ctx, "message delivered",
			"id", msg.ID, "from", msg.Sender, "to", rec.Username)

		if derr := s.store.DeletePending(ctx, rec.Username, msg.ID); derr != nil {
			s.logger.Error(ctx, "flush: pending delete failed",
				"username", rec.Username, "id", msg.ID, "err", derr)
			return
		}

		s.ackSender(ctx, msg.Sender, msg.ID)
	}
}

// ackSender pushes SEND_MESS_ACK to the original sender's listening
// endpoint. Fire and forget: failures are logged and otherwise ignored.
func (s *Service) ackSender(ctx context.Context, sender string, id uint32) {
	rec, err := s.store.Read(ctx, sender)
	if err != nil {
		s.logger.Debug(ctx, "ack skipped, sender unreadable", "sender", sender, "err", err)
		return
	}
	if rec.Status != store.StatusConnected {
		return
	}
	if err := s.pusher.PushAck(ctx, rec, id); err != nil {
		s.logger.Debug(ctx, "ack push failed", "sender", sender, "id", id, "err", err)
	}
}

func (s *Service) logOutcome(ctx context.Context, op, username string, code byte) {
	if code == protocol.RepSuccess {
		s.logger.Info(ctx, "request ok", "op", op, "username", username)
	} else {
		s.logger.Info(ctx, "request failed", "op", op, "username", username, "code", code)
	}
}

func peerHost(conn net.Conn) (string, error) {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return "", err
	}
	return host, nil
}
