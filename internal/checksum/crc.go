// Package checksum wraps the CRC32 algorithm used to validate message
// records on the wire. The algorithm itself is an external collaborator
// (spec §1 scopes it out of the core); this package exists only to give
// the rest of the module a single named call site, same as the teacher's
// checksum package.
package checksum

import "hash/crc32"

// CRC is the checksum type carried on the wire alongside each record.
type CRC uint32

var ieeeTable = crc32.MakeTable(crc32.IEEE)

// ChecksumIEEE computes the CRC32 (IEEE polynomial) of data, matching the
// Kafka v0 wire format's per-record checksum.
func ChecksumIEEE(data []byte) CRC {
	return CRC(crc32.Checksum(data, ieeeTable))
}

// Verify reports whether want matches the checksum of data.
func Verify(data []byte, want CRC) bool {
	return ChecksumIEEE(data) == want
}
