package protocol

import (
	"bytes"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadString(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "nul terminated", in: "alice\x00rest", max: MaxFieldLen, want: "alice"},
		{name: "newline terminated", in: "alice\nrest", max: MaxFieldLen, want: "alice"},
		{name: "first terminator wins", in: "al\x00ice\n", max: MaxFieldLen, want: "al"},
		{name: "empty field", in: "\x00", max: MaxFieldLen, want: ""},
		{name: "eof ends field", in: "alice", max: MaxFieldLen, want: "alice"},
		{name: "overflow truncates silently", in: "abcdefgh\x00", max: 5, want: "abcd"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ReadString(strings.NewReader(tc.in), tc.max)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestReadString_EmptyStream(t *testing.T) {
	_, err := ReadString(strings.NewReader(""), MaxFieldLen)
	assert.ErrorIs(t, err, ErrFieldEmpty)
}

func TestWriteString_AppendsTerminator(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteString(&buf, "bob"))
	assert.Equal(t, []byte("bob\x00"), buf.Bytes())
}

func TestWriteUint_DecimalField(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteUint(&buf, 4294967294))

	got, err := ReadString(&buf, MaxFieldLen)
	require.NoError(t, err)
	assert.Equal(t, "4294967294", got)
}

func TestReplyRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReply(&buf, RepConnectAlreadyConnected))

	code, err := ReadReply(&buf)
	require.NoError(t, err)
	assert.Equal(t, RepConnectAlreadyConnected, code)
}

func TestReadReply_EOF(t *testing.T) {
	_, err := ReadReply(bytes.NewReader(nil))
	assert.ErrorIs(t, err, io.EOF)
}

func TestParseMessageID(t *testing.T) {
	id, err := ParseMessageID("42")
	require.NoError(t, err)
	assert.Equal(t, uint32(42), id)

	_, err = ParseMessageID("forty-two")
	assert.Error(t, err)

	_, err = ParseMessageID("4294967296") // beyond uint32
	assert.Error(t, err)
}

func TestParsePort(t *testing.T) {
	p, err := ParsePort("9001")
	require.NoError(t, err)
	assert.Equal(t, uint16(9001), p)

	_, err = ParsePort("70000")
	assert.Error(t, err)
}

func TestNextMessageID_WrapsBeforeMax(t *testing.T) {
	assert.Equal(t, uint32(1), NextMessageID(0))
	assert.Equal(t, uint32(2), NextMessageID(1))

	// The counter wraps to zero instead of ever producing MaxMessageID.
	assert.Equal(t, uint32(0), NextMessageID(math.MaxUint32-1))
}
