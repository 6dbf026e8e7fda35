package compress

import (
	"bytes"
	"testing"

	"kcore/internal/config"
)

func TestEncodeDecodeRoundTripSnappy(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog, repeatedly, repeatedly")
	enc, err := Encode(config.CompressionSnappy, data)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if bytes.Equal(enc, data) {
		t.Fatal("Encode(snappy) returned data unchanged")
	}
	dec, err := Decode(config.CompressionSnappy, enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(dec, data) {
		t.Fatalf("Decode(Encode(data)) = %q, want %q", dec, data)
	}
}

func TestEncodeDecodeRoundTripGzip(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog, repeatedly, repeatedly")
	enc, err := Encode(config.CompressionGzip, data)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dec, err := Decode(config.CompressionGzip, enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(dec, data) {
		t.Fatalf("Decode(Encode(data)) = %q, want %q", dec, data)
	}
}

func TestEncodeNoneAndDefaultPassThrough(t *testing.T) {
	data := []byte("unchanged")
	for _, c := range []config.Compression{config.CompressionNone, config.CompressionDefault} {
		enc, err := Encode(c, data)
		if err != nil {
			t.Fatalf("Encode(%v): %v", c, err)
		}
		if !bytes.Equal(enc, data) {
			t.Fatalf("Encode(%v) = %q, want unchanged", c, enc)
		}
		dec, err := Decode(c, data)
		if err != nil {
			t.Fatalf("Decode(%v): %v", c, err)
		}
		if !bytes.Equal(dec, data) {
			t.Fatalf("Decode(%v) = %q, want unchanged", c, dec)
		}
	}
}

func TestAttrCodeRoundTrip(t *testing.T) {
	cases := []config.Compression{config.CompressionNone, config.CompressionSnappy, config.CompressionGzip}
	for _, c := range cases {
		code := AttrCode(c)
		if got := FromAttrCode(code); got != c {
			t.Errorf("FromAttrCode(AttrCode(%v)) = %v, want %v", c, got, c)
		}
	}
}

func TestFromAttrCodeMasksToTwoBits(t *testing.T) {
	// Only the low two bits carry the compression code; higher bits must
	// be ignored (spec.md §4.5: "attr & 0b11").
	if got := FromAttrCode(0xFC | 2); got != config.CompressionSnappy {
		t.Fatalf("FromAttrCode(0xFE) = %v, want snappy", got)
	}
}

func TestEncodeUnknownCodecErrors(t *testing.T) {
	if _, err := Encode(config.Compression(99), []byte("x")); err == nil {
		t.Fatal("Encode(unknown codec) = nil error, want error")
	}
	if _, err := Decode(config.Compression(99), []byte("x")); err == nil {
		t.Fatal("Decode(unknown codec) = nil error, want error")
	}
}
