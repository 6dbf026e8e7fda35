// Package message defines the wire record format Consumer/Producer
// exchange with the buffer engine (spec.md §3-4.5): the borrowed-view
// Message type plus the record-level encode/decode functions. Record
// framing is core-scoped by spec.md (§4.5 spells out the exact byte
// layout), unlike the request/response envelopes in internal/wire,
// which are an external collaborator.
package message

import (
	"encoding/binary"
	"errors"

	"kcore/internal/checksum"
)

// Message is one decoded record. Key and Value are borrowed views into
// the QueueBuffer that produced them (spec.md §3): they are valid only
// until the buffer is next reused, since Go has no borrow checker to
// enforce that statically, callers must not retain them past the next
// call that retires the buffer (Consumer.NextMessage or Close).
type Message struct {
	Offset int64
	Key    []byte
	Value  []byte
}

// HeaderSize is the fixed-size prefix (offset + declared size) every
// record starts with.
const HeaderSize = 12

// bodyFixedSize is crc(4) + magic(1) + attr(1) + keyLen(4) + valueLen(4).
const bodyFixedSize = 14

var (
	// ErrPartialTail signals that fewer bytes remain in the buffer
	// than the record's declared size — an end-of-batch marker, not a
	// real error (spec.md §4.5: "the record is treated as a partial
	// tail and skipped").
	ErrPartialTail = errors.New("message: partial tail record")

	ErrTruncated       = errors.New("message: truncated record")
	ErrBadMagic        = errors.New("message: unsupported magic byte")
	ErrCRCMismatch     = errors.New("message: crc32 mismatch")
	ErrKeyLenInvalid   = errors.New("message: key length exceeds record size")
	ErrValueLenInvalid = errors.New("message: value length exceeds record size")
)

// Record is a decoded record header plus its raw attribute byte, used
// internally to detect compression before Message is materialized.
type Record struct {
	Message
	Attr byte
}

// EncodeRecord serializes one record in the layout spec.md §4.5
// requires: { offset int64, size int32, crc int32, magic int8, attr
// int8, keyLen int32, key, valueLen int32, value }. A nil key or value
// is encoded with a -1 length, the Kafka convention for "absent".
func EncodeRecord(offset int64, attr byte, key, value []byte) []byte {
	keyLen := -1
	if key != nil {
		keyLen = len(key)
	}
	valueLen := -1
	if value != nil {
		valueLen = len(value)
	}
	bodySize := bodyFixedSize
	if keyLen > 0 {
		bodySize += keyLen
	}
	if valueLen > 0 {
		bodySize += valueLen
	}

	buf := make([]byte, HeaderSize+bodySize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(offset))
	binary.BigEndian.PutUint32(buf[8:12], uint32(bodySize))

	body := buf[12:]
	body[4] = 0 // magic
	body[5] = attr
	binary.BigEndian.PutUint32(body[6:10], uint32(int32(keyLen)))
	p := 10
	if keyLen > 0 {
		copy(body[p:p+keyLen], key)
		p += keyLen
	}
	binary.BigEndian.PutUint32(body[p:p+4], uint32(int32(valueLen)))
	p += 4
	if valueLen > 0 {
		copy(body[p:p+valueLen], value)
	}

	crc := checksum.ChecksumIEEE(body[4:])
	binary.BigEndian.PutUint32(body[0:4], uint32(crc))

	return buf
}

// DecodeRecord parses one record starting at buf[0]. It returns the
// number of bytes consumed. If fewer bytes remain than the record's
// declared size, it returns ErrPartialTail and 0 consumed — the caller
// should treat the buffer as exhausted rather than retry.
func DecodeRecord(buf []byte) (Record, int, error) {
	if len(buf) < HeaderSize {
		return Record{}, 0, ErrPartialTail
	}
	size := int32(binary.BigEndian.Uint32(buf[8:12]))
	if size < bodyFixedSize {
		return Record{}, 0, ErrTruncated
	}
	total := HeaderSize + int(size)
	if total > len(buf) {
		return Record{}, 0, ErrPartialTail
	}
	offset := int64(binary.BigEndian.Uint64(buf[0:8]))
	body := buf[HeaderSize:total]

	wantCRC := checksum.CRC(binary.BigEndian.Uint32(body[0:4]))
	if !checksum.Verify(body[4:], wantCRC) {
		return Record{}, 0, ErrCRCMismatch
	}
	magic := body[4]
	if magic != 0 {
		return Record{}, 0, ErrBadMagic
	}
	attr := body[5]

	p := 6
	keyLen := int32(binary.BigEndian.Uint32(body[p : p+4]))
	p += 4
	maxKeyLen := size - bodyFixedSize
	if keyLen > maxKeyLen {
		return Record{}, 0, ErrKeyLenInvalid
	}
	var key []byte
	if keyLen >= 0 {
		if p+int(keyLen) > len(body) {
			return Record{}, 0, ErrTruncated
		}
		key = body[p : p+int(keyLen)]
		p += int(keyLen)
	}

	if p+4 > len(body) {
		return Record{}, 0, ErrTruncated
	}
	valueLen := int32(binary.BigEndian.Uint32(body[p : p+4]))
	p += 4
	usedKeyLen := keyLen
	if usedKeyLen < 0 {
		usedKeyLen = 0
	}
	maxValueLen := size - bodyFixedSize - usedKeyLen
	if valueLen > maxValueLen {
		return Record{}, 0, ErrValueLenInvalid
	}
	var value []byte
	if valueLen >= 0 {
		if p+int(valueLen) > len(body) {
			return Record{}, 0, ErrTruncated
		}
		value = body[p : p+int(valueLen)]
	}

	return Record{
		Message: Message{Offset: offset, Key: key, Value: value},
		Attr:    attr,
	}, total, nil
}

// NextOffset scans a raw message set (as returned by a Fetch response)
// and returns the offset one past the last fully-decoded record, per
// spec.md §4.3: "next_offset = last full message's offset + 1". A
// partial tail record at the end of the set is expected and ignored,
// not an error — the broker is free to end a message set mid-record
// when it hits its byte budget.
func NextOffset(buf []byte, fallback int64) (int64, error) {
	last := int64(-1)
	haveAny := false
	for len(buf) > 0 {
		rec, n, err := DecodeRecord(buf)
		if err == ErrPartialTail {
			break
		}
		if err != nil {
			return 0, err
		}
		last = rec.Offset
		haveAny = true
		buf = buf[n:]
	}
	if !haveAny {
		return fallback, nil
	}
	return last + 1, nil
}
