package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	entry := LogEntry{
		Seq:         42,
		Op:          OpPut,
		Key:         []byte("hello"),
		Value:       []byte("world"),
		TimestampNs: 1234567890,
	}

	buf := Encode(entry)
	got, n, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, entry.Seq, got.Seq)
	require.Equal(t, entry.Op, got.Op)
	require.Equal(t, entry.Key, got.Key)
	require.Equal(t, entry.Value, got.Value)
	require.Equal(t, entry.TimestampNs, got.TimestampNs)
}

func TestEncodeDecodeDeleteHasNoValue(t *testing.T) {
	entry := LogEntry{Seq: 1, Op: OpDelete, Key: []byte("k")}
	buf := Encode(entry)
	got, _, err := Decode(buf)
	require.NoError(t, err)
	require.Empty(t, got.Value)
}

func TestDecodeTruncated(t *testing.T) {
	entry := LogEntry{Seq: 1, Op: OpPut, Key: []byte("k"), Value: []byte("v")}
	buf := Encode(entry)

	_, _, err := Decode(buf[:len(buf)-3])
	require.ErrorIs(t, err, ErrTruncated)

	_, _, err = Decode(buf[:4])
	require.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeCorruptChecksum(t *testing.T) {
	entry := LogEntry{Seq: 1, Op: OpPut, Key: []byte("k"), Value: []byte("v")}
	buf := Encode(entry)
	buf[len(buf)-1] ^= 0xff

	_, _, err := Decode(buf)
	require.ErrorIs(t, err, ErrCorruptRecord)
}

func TestDecodeBadMagic(t *testing.T) {
	entry := LogEntry{Seq: 1, Op: OpPut, Key: []byte("k"), Value: []byte("v")}
	buf := Encode(entry)
	buf[0] = 0x00
	buf[1] = 0x00

	_, _, err := Decode(buf)
	require.ErrorIs(t, err, ErrCorruptRecord)
}

func TestDecodeUnknownVersion(t *testing.T) {
	entry := LogEntry{Seq: 1, Op: OpPut, Key: []byte("k"), Value: []byte("v")}
	buf := Encode(entry)
	// Bump the version byte (low byte of the little-endian magic).
	buf[0] = 0x02

	_, n, err := Decode(buf)
	require.ErrorIs(t, err, ErrUnknownVersion)
	require.Equal(t, len(buf), n)
}

func TestDecodeBadOp(t *testing.T) {
	entry := LogEntry{Seq: 1, Op: OpPut, Key: []byte("k"), Value: []byte("v")}
	buf := Encode(entry)
	// op byte sits right after seq (offset 8+8=16)
	buf[16] = 0x09
	_, _, err := Decode(buf)
	require.ErrorIs(t, err, ErrCorruptRecord)
}

func TestDecodeMultipleRecordsFromStream(t *testing.T) {
	var stream []byte
	for i := uint64(0); i < 5; i++ {
		stream = append(stream, Encode(LogEntry{Seq: i + 1, Op: OpPut, Key: []byte("k"), Value: []byte("v")})...)
	}

	off := 0
	count := 0
	for off < len(stream) {
		e, n, err := Decode(stream[off:])
		require.NoError(t, err)
		require.Equal(t, uint64(count+1), e.Seq)
		off += n
		count++
	}
	require.Equal(t, 5, count)
}
