// Package protocol implements the wire format spoken between clients and the
// server. Every textual field (operation code, username, port, message id,
// content) travels as a byte sequence terminated by a NUL or a newline,
// whichever comes first; a reply is a single unsigned byte with no
// terminator. The same codec is used in both directions: the server decodes
// inbound requests with it and encodes outbound pushes (SEND_MESSAGE,
// SEND_MESS_ACK) with it.
package protocol

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
)

// Operation codes served by the server.
const (
	OpRegister   = "REGISTER"
	OpUnregister = "UNREGISTER"
	OpConnect    = "CONNECT"
	OpDisconnect = "DISCONNECT"
	OpSend       = "SEND"
)

// Operation codes pushed by the server to a client's listening endpoint.
const (
	OpSendMessage = "SEND_MESSAGE"
	OpSendMessAck = "SEND_MESS_ACK"
)

// OpEndListener is client-internal: the client sends it to its own listening
// endpoint to shut the listener down. The server never emits it.
const OpEndListener = "END_LISTEN_THREAD"

// Field size bounds. Strings longer than the bound are silently truncated on
// receipt, matching the original clients.
const (
	MaxFieldLen   = 512 // operation codes, usernames, ports, message ids
	MaxContentLen = 256 // message content
)

// MaxMessageID is the modulus for the per-recipient message id counter.
const MaxMessageID = math.MaxUint32

// Reply codes. Code 0 is success for every operation; the remaining values
// are per-operation.
const (
	RepSuccess byte = 0

	RepRegisterAlreadyRegistered byte = 1
	RepRegisterFail              byte = 2

	RepUnregisterNotExists byte = 1
	RepUnregisterFail      byte = 2

	RepConnectNotExists        byte = 1
	RepConnectAlreadyConnected byte = 2
	RepConnectFail             byte = 3

	RepDisconnectNotExists    byte = 1
	RepDisconnectNotConnected byte = 2
	RepDisconnectFail         byte = 3

	RepSendNotExists byte = 1
	RepSendFail      byte = 2
)

// ErrFieldEmpty is returned by ReadString when the stream ends before any
// byte of the field arrives.
var ErrFieldEmpty = errors.New("empty field")

// ReadString reads one delimited field from r. It consumes bytes until a NUL
// or newline terminator (which is stripped) and keeps at most max-1 of them;
// the overflow is discarded, not an error. EOF before the first byte yields
// ErrFieldEmpty; EOF after at least one byte ends the field.
func ReadString(r io.Reader, max int) (string, error) {
	var (
		buf [1]byte
		out = make([]byte, 0, 32)
	)

	for {
		n, err := r.Read(buf[:])
		if n == 1 {
			c := buf[0]
			if c == 0 || c == '\n' {
				return string(out), nil
			}
			if len(out) < max-1 {
				out = append(out, c)
			}
			continue
		}
		if err == io.EOF {
			if len(out) == 0 {
				return "", ErrFieldEmpty
			}
			return string(out), nil
		}
		if err != nil {
			return "", fmt.Errorf("read field: %w", err)
		}
	}
}

// WriteString writes s followed by the NUL terminator.
func WriteString(w io.Writer, s string) error {
	if _, err := w.Write(append([]byte(s), 0)); err != nil {
		return fmt.Errorf("write field: %w", err)
	}
	return nil
}

// WriteUint writes an unsigned number as a decimal string field. Message ids
// and ports travel in this form.
func WriteUint(w io.Writer, v uint64) error {
	return WriteString(w, strconv.FormatUint(v, 10))
}

// ReadReply reads the single-byte reply code.
func ReadReply(r io.Reader) (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("read reply: %w", err)
	}
	return buf[0], nil
}

// WriteReply writes the single-byte reply code.
func WriteReply(w io.Writer, code byte) error {
	if _, err := w.Write([]byte{code}); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	return nil
}

// ParseMessageID parses a decimal message id field.
func ParseMessageID(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("message id %q: %w", s, err)
	}
	return uint32(v), nil
}

// ParsePort parses a decimal listening-port field.
func ParsePort(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("port %q: %w", s, err)
	}
	return uint16(v), nil
}

// NextMessageID advances the per-recipient message counter, wrapping at
// MaxMessageID so the value never reaches the unsigned maximum itself.
func NextMessageID(last uint32) uint32 {
	return uint32((uint64(last) + 1) % MaxMessageID)
}
