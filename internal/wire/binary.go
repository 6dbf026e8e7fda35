package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// ErrStringTooLong / ErrBytesTooLong reject a field too long for its
// length prefix when writing. ErrBytesTooLong is also returned when
// reading an array whose length prefix is negative or implausibly
// large, so a corrupt prefix cannot turn into a huge allocation.
var (
	ErrStringTooLong = errors.New("wire: string length prefix too large")
	ErrBytesTooLong  = errors.New("wire: byte array length prefix too large")
)

const maxFieldLen = 64 << 20 // 64MiB, generous but bounded

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 1<<15 {
		return ErrStringTooLong
	}
	if err := binary.Write(buf, binary.BigEndian, int16(len(s))); err != nil {
		return err
	}
	_, err := buf.WriteString(s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n int16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	if n < 0 {
		return "", nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeBytes(buf *bytes.Buffer, b []byte) error {
	if len(b) > maxFieldLen {
		return ErrBytesTooLong
	}
	if err := binary.Write(buf, binary.BigEndian, int32(len(b))); err != nil {
		return err
	}
	_, err := buf.Write(b)
	return err
}

func readInt32Array(r io.Reader) ([]int32, error) {
	var n int32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	if n < 0 || n > maxFieldLen {
		return nil, ErrBytesTooLong
	}
	out := make([]int32, n)
	for i := range out {
		if err := binary.Read(r, binary.BigEndian, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}
