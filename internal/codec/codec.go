// Package codec encodes and decodes the write-ahead log's on-disk record
// format: a length-prefixed, magic-stamped, CRC32-checksummed binary layout.
//
// Wire format (little-endian):
//
//	magic u32 | len u32 | seq u64 | op u8 | ts u64 | klen u32 | vlen u32
//	key (klen bytes) | value (vlen bytes) | crc32 u32
//
// `len` covers everything after itself, including the trailing CRC. `crc32`
// is computed over every byte from `magic` up to (but not including) itself.
//
// © 2025 warpengine authors. MIT License.
package codec

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// Op identifies the kind of mutation a LogEntry records.
type Op uint8

const (
	// OpPut records an insert or overwrite.
	OpPut Op = 1
	// OpDelete records a tombstone.
	OpDelete Op = 2
)

// Magic is the fixed format stamp ("WAR\x01"). A decoded record whose magic
// does not match is corrupt; a magic with an unrecognised low byte is a
// forward-compatible future format version (see Decode).
const Magic uint32 = 0x57415201

const (
	headerFixedSize = 4 + 4 + 8 + 1 + 8 + 4 + 4 // magic,len,seq,op,ts,klen,vlen
	crcSize         = 4
	// minRecordSize is the smallest possible encoded record: empty key and
	// value, still carrying the full header and trailing CRC.
	minRecordSize = headerFixedSize + crcSize
)

// Errors returned by Decode. Classification matters for recovery: a
// CorruptRecord or Truncated tail is healed by truncation, while
// UnknownVersion stops replay of the remainder of the segment.
var (
	ErrCorruptRecord  = errors.New("codec: corrupt record (bad magic or checksum)")
	ErrTruncated      = errors.New("codec: truncated record")
	ErrUnknownVersion = errors.New("codec: unknown record version")
)

// LogEntry is the in-memory representation of one WAL record.
type LogEntry struct {
	Seq       uint64
	Op        Op
	Key       []byte
	Value     []byte
	TimestampNs uint64
}

// Encode serialises entry to its wire format. It never fails: callers are
// responsible for keeping Key/Value within the spec's size bounds before
// encoding.
func Encode(entry LogEntry) []byte {
	klen := len(entry.Key)
	vlen := len(entry.Value)
	total := headerFixedSize + klen + vlen + crcSize

	buf := make([]byte, total)
	off := 0

	binary.LittleEndian.PutUint32(buf[off:], Magic)
	off += 4

	lenFieldOffset := off
	off += 4 // length field patched below

	binary.LittleEndian.PutUint64(buf[off:], entry.Seq)
	off += 8
	buf[off] = byte(entry.Op)
	off++
	binary.LittleEndian.PutUint64(buf[off:], entry.TimestampNs)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], uint32(klen))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(vlen))
	off += 4

	off += copy(buf[off:], entry.Key)
	off += copy(buf[off:], entry.Value)

	// len = total bytes following the len field itself, including the CRC.
	recLen := uint32(total - 8)
	binary.LittleEndian.PutUint32(buf[lenFieldOffset:], recLen)

	crc := crc32.ChecksumIEEE(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:], crc)

	return buf
}

// Decode reads one record from the front of b. On success it returns the
// entry and the number of bytes consumed. On failure it returns a
// classified error: ErrTruncated when b does not yet contain a full record
// (the caller should wait for more bytes, or — during recovery — treat the
// rest of the segment as junk), ErrCorruptRecord when the checksum does not
// match, and ErrUnknownVersion when the magic's version byte is newer than
// this decoder understands.
func Decode(b []byte) (LogEntry, int, error) {
	if len(b) < 8 {
		return LogEntry{}, 0, ErrTruncated
	}

	magic := binary.LittleEndian.Uint32(b[0:4])
	recLen := binary.LittleEndian.Uint32(b[4:8])

	if magic != Magic {
		if magic&0xffffff00 == Magic&0xffffff00 {
			// Same family, different version byte: forward-compatible skip.
			total := 8 + int(recLen)
			if len(b) < total {
				return LogEntry{}, 0, ErrTruncated
			}
			return LogEntry{}, total, ErrUnknownVersion
		}
		return LogEntry{}, 0, ErrCorruptRecord
	}

	total := 8 + int(recLen)
	if total < minRecordSize || len(b) < total {
		return LogEntry{}, 0, ErrTruncated
	}

	off := 8
	seq := binary.LittleEndian.Uint64(b[off:])
	off += 8
	op := Op(b[off])
	off++
	ts := binary.LittleEndian.Uint64(b[off:])
	off += 8
	klen := binary.LittleEndian.Uint32(b[off:])
	off += 4
	vlen := binary.LittleEndian.Uint32(b[off:])
	off += 4

	if op != OpPut && op != OpDelete {
		return LogEntry{}, 0, ErrCorruptRecord
	}

	need := off + int(klen) + int(vlen) + crcSize
	if need != total {
		return LogEntry{}, 0, ErrCorruptRecord
	}

	key := make([]byte, klen)
	copy(key, b[off:off+int(klen)])
	off += int(klen)

	var val []byte
	if vlen > 0 {
		val = make([]byte, vlen)
		copy(val, b[off:off+int(vlen)])
		off += int(vlen)
	}

	storedCRC := binary.LittleEndian.Uint32(b[off:])
	gotCRC := crc32.ChecksumIEEE(b[:off])
	if storedCRC != gotCRC {
		return LogEntry{}, 0, ErrCorruptRecord
	}

	return LogEntry{
		Seq:         seq,
		Op:          op,
		Key:         key,
		Value:       val,
		TimestampNs: ts,
	}, total, nil
}
