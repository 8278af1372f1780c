package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRecordEncoding_FixedSize(t *testing.T) {
	a, err := encodeUserRecord(&UserRecord{Username: "a"})
	require.NoError(t, err)

	b, err := encodeUserRecord(&UserRecord{
		Username: "b", Status: StatusConnected, Addr: "10.1.2.3", Port: 9001, LastMessageID: 99,
	})
	require.NoError(t, err)

	assert.Equal(t, len(a), len(b), "user records must have one fixed layout")
	assert.Equal(t, kindUser, a[0])
}

func TestDecodeUserRecord_RejectsWrongKind(t *testing.T) {
	raw, err := encodePendingMessage(&PendingMessage{Recipient: "r", Sender: "s", ID: 1, Content: "c"})
	require.NoError(t, err)

	_, err = decodeUserRecord("r", raw)
	assert.Error(t, err)

	_, err = decodeUserRecord("r", nil)
	assert.Error(t, err)
}

func TestDecodePendingMessage_RejectsWrongKind(t *testing.T) {
	raw, err := encodeUserRecord(&UserRecord{Username: "u"})
	require.NoError(t, err)

	_, err = decodePendingMessage("u", raw)
	assert.Error(t, err)
}

func TestDecodeUserRecord_TruncatedPayload(t *testing.T) {
	raw, err := encodeUserRecord(&UserRecord{Username: "u"})
	require.NoError(t, err)

	_, err = decodeUserRecord("u", raw[:len(raw)/2])
	assert.Error(t, err)
}

func TestPackString_TruncatesAndPads(t *testing.T) {
	var dst [4]byte
	packString(dst[:], "abcdef")
	assert.Equal(t, "abcd", unpackString(dst[:]))

	packString(dst[:], "x")
	assert.Equal(t, "x", unpackString(dst[:]))
}
