// Package hash provides the checksums used to frame on-disk records.
//
// Every record written by the block driver carries a CRC32-Castagnoli
// checksum. Go's hash/crc32 uses SSE4.2 or the ARM CRC extension for the
// Castagnoli polynomial when available, so checksumming is never the
// bottleneck of an append.
//
//	sum := hash.CRC32C(data)
//
//	h := hash.NewCRC32C()
//	h.Write(header)
//	h.Write(payload)
//	sum := h.Sum32()
package hash
