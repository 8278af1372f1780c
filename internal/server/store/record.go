package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// On-disk record encoding for the filesystem backend. Each entry file holds
// exactly one fixed-layout record: a one-byte kind tag followed by the
// payload shape for that kind. A record is written in a single transfer, so
// no partial-record state is observable once a write completes.

const (
	kindUser    byte = 'u'
	kindMessage byte = 'm'
)

const (
	maxUsernameLen = 512
	maxAddrLen     = 64
	maxContentLen  = 256
)

type userPayload struct {
	Status uint8
	Addr   [maxAddrLen]byte
	Port   uint16
	LastID uint32
}

type messagePayload struct {
	ID      uint32
	Sender  [maxUsernameLen]byte
	Content [maxContentLen]byte
}

func packString(dst []byte, s string) {
	// NUL-padded; silently truncated to the fixed field, like the wire format.
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

func unpackString(src []byte) string {
	if i := bytes.IndexByte(src, 0); i >= 0 {
		return string(src[:i])
	}
	return string(src)
}

func encodeUserRecord(rec *UserRecord) ([]byte, error) {
	p := userPayload{
		Status: uint8(rec.Status),
		Port:   rec.Port,
		LastID: rec.LastMessageID,
	}
	packString(p.Addr[:], rec.Addr)

	var buf bytes.Buffer
	buf.WriteByte(kindUser)
	if err := binary.Write(&buf, binary.LittleEndian, &p); err != nil {
		return nil, fmt.Errorf("encode user record: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeUserRecord(username string, raw []byte) (*UserRecord, error) {
	if len(raw) == 0 || raw[0] != kindUser {
		return nil, fmt.Errorf("user record for %q: bad entry kind", username)
	}

	var p userPayload
	if err := binary.Read(bytes.NewReader(raw[1:]), binary.LittleEndian, &p); err != nil {
		return nil, fmt.Errorf("decode user record for %q: %w", username, err)
	}

	return &UserRecord{
		Username:      username,
		Status:        Status(p.Status),
		Addr:          unpackString(p.Addr[:]),
		Port:          p.Port,
		LastMessageID: p.LastID,
	}, nil
}

func encodePendingMessage(msg *PendingMessage) ([]byte, error) {
	p := messagePayload{ID: msg.ID}
	packString(p.Sender[:], msg.Sender)
	packString(p.Content[:], msg.Content)

	var buf bytes.Buffer
	buf.WriteByte(kindMessage)
	if err := binary.Write(&buf, binary.LittleEndian, &p); err != nil {
		return nil, fmt.Errorf("encode pending message: %w", err)
	}
	return buf.Bytes(), nil
}

func decodePendingMessage(recipient string, raw []byte) (*PendingMessage, error) {
	if len(raw) == 0 || raw[0] != kindMessage {
		return nil, fmt.Errorf("pending message for %q: bad entry kind", recipient)
	}

	var p messagePayload
	if err := binary.Read(bytes.NewReader(raw[1:]), binary.LittleEndian, &p); err != nil {
		return nil, fmt.Errorf("decode pending message for %q: %w", recipient, err)
	}

	return &PendingMessage{
		Recipient: recipient,
		Sender:    unpackString(p.Sender[:]),
		ID:        p.ID,
		Content:   unpackString(p.Content[:]),
	}, nil
}
