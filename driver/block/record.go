package block

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/casefs/driver"
	"github.com/hupe1980/casefs/internal/hash"
)

// RecordType identifies the type of a block record.
type RecordType uint8

const (
	RecordPut    RecordType = 1
	RecordDelete RecordType = 2
)

// Record layout (little-endian):
//
//	[CRC32C: 4] [HeaderCRC: 4] [Type: 1] [Codec: 1] [KeyLen: 2] [RawLen: 4] [ValLen: 4] [Key] [Value]
//
// HeaderCRC covers Type through ValLen. CRC32C covers everything after
// itself, header checksum included.
const recordHeaderSize = 20

const maxValueLen = 1 << 30

// errTorn marks the remains of an interrupted append at the end of a file:
// a short header, a valid header whose record runs past the end of the
// file, a zero-filled tail, or a checksum failure on the final record.
var errTorn = errors.New("torn record")

type record struct {
	typ    RecordType
	codec  Codec
	key    string
	rawLen uint32
	value  []byte // stored form
}

func (r *record) size() int64 {
	return int64(recordHeaderSize + len(r.key) + len(r.value))
}

func (r *record) encode() []byte {
	buf := make([]byte, r.size())
	buf[8] = byte(r.typ)
	buf[9] = byte(r.codec)
	binary.LittleEndian.PutUint16(buf[10:], uint16(len(r.key)))
	binary.LittleEndian.PutUint32(buf[12:], r.rawLen)
	binary.LittleEndian.PutUint32(buf[16:], uint32(len(r.value)))
	binary.LittleEndian.PutUint32(buf[4:], hash.CRC32C(buf[8:recordHeaderSize]))
	copy(buf[recordHeaderSize:], r.key)
	copy(buf[recordHeaderSize+len(r.key):], r.value)
	binary.LittleEndian.PutUint32(buf[0:], hash.CRC32C(buf[4:]))
	return buf
}

// recordHeader is the decoded fixed part of a record.
type recordHeader struct {
	typ    RecordType
	codec  Codec
	keyLen int64
	rawLen uint32
	valLen int64
}

func (h recordHeader) total() int64 { return recordHeaderSize + h.keyLen + h.valLen }

// parseHeader checks the header checksum and the field ranges. A header
// that passes its checksum but holds impossible values was written that way,
// so it is reported as corruption.
func parseHeader(hdr []byte) (recordHeader, bool, error) {
	if hash.CRC32C(hdr[8:recordHeaderSize]) != binary.LittleEndian.Uint32(hdr[4:]) {
		return recordHeader{}, false, nil
	}
	h := recordHeader{
		typ:    RecordType(hdr[8]),
		codec:  Codec(hdr[9]),
		keyLen: int64(binary.LittleEndian.Uint16(hdr[10:])),
		rawLen: binary.LittleEndian.Uint32(hdr[12:]),
		valLen: int64(binary.LittleEndian.Uint32(hdr[16:])),
	}
	switch {
	case h.typ != RecordPut && h.typ != RecordDelete:
		return h, true, fmt.Errorf("%w: record type %d", driver.ErrCorrupt, h.typ)
	case h.codec > CodecZSTD:
		return h, true, fmt.Errorf("%w: record codec %d", driver.ErrCorrupt, h.codec)
	case h.valLen > maxValueLen:
		return h, true, fmt.Errorf("%w: record value length %d", driver.ErrCorrupt, h.valLen)
	}
	return h, true, nil
}

// decodeRecord parses one complete encoded record.
func decodeRecord(buf []byte) (*record, error) {
	if len(buf) < recordHeaderSize {
		return nil, errTorn
	}
	h, ok, err := parseHeader(buf)
	if !ok {
		return nil, fmt.Errorf("%w: record header checksum mismatch", driver.ErrCorrupt)
	}
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) != h.total() {
		return nil, fmt.Errorf("%w: record length mismatch", driver.ErrCorrupt)
	}
	if hash.CRC32C(buf[4:]) != binary.LittleEndian.Uint32(buf[0:]) {
		return nil, fmt.Errorf("%w: record checksum mismatch", driver.ErrCorrupt)
	}
	return &record{
		typ:    h.typ,
		codec:  h.codec,
		rawLen: h.rawLen,
		key:    string(buf[recordHeaderSize : recordHeaderSize+h.keyLen]),
		value:  buf[recordHeaderSize+h.keyLen:],
	}, nil
}

// scanner reads records sequentially from a data file.
type scanner struct {
	br   *bufio.Reader
	off  int64 // offset of the next record
	size int64 // file size
	hdr  [recordHeaderSize]byte
}

func newScanner(r io.ReaderAt, start, size int64) *scanner {
	return &scanner{
		br:   bufio.NewReaderSize(io.NewSectionReader(r, start, size-start), 256<<10),
		off:  start,
		size: size,
	}
}

// next returns the next record and its offset. It returns io.EOF at a clean
// end of file, errTorn for the remains of an interrupted append, and
// driver.ErrCorrupt for damage anywhere else.
func (s *scanner) next() (*record, int64, error) {
	if s.off == s.size {
		return nil, 0, io.EOF
	}
	if _, err := io.ReadFull(s.br, s.hdr[:]); err != nil {
		return nil, 0, s.short(err)
	}
	h, ok, err := parseHeader(s.hdr[:])
	if !ok {
		if zero, zerr := s.zeroTail(); zerr != nil {
			return nil, 0, zerr
		} else if zero {
			return nil, 0, errTorn
		}
		return nil, 0, fmt.Errorf("%w: record header checksum mismatch at offset %d", driver.ErrCorrupt, s.off)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("at offset %d: %w", s.off, err)
	}
	total := h.total()
	if s.off+total > s.size {
		// A valid header whose record was never completely written.
		return nil, 0, errTorn
	}

	buf := make([]byte, total)
	copy(buf, s.hdr[:])
	if _, err := io.ReadFull(s.br, buf[recordHeaderSize:]); err != nil {
		return nil, 0, s.short(err)
	}

	rec, err := decodeRecord(buf)
	if err != nil {
		if s.off+total == s.size {
			return nil, 0, errTorn
		}
		return nil, 0, fmt.Errorf("at offset %d: %w", s.off, err)
	}
	off := s.off
	s.off += total
	return rec, off, nil
}

// zeroTail reports whether the current header and everything after it are
// zero bytes, as left by a crash after the file was extended but before the
// data reached the disk.
func (s *scanner) zeroTail() (bool, error) {
	for _, b := range s.hdr {
		if b != 0 {
			return false, nil
		}
	}
	buf := make([]byte, 32<<10)
	for {
		n, err := s.br.Read(buf)
		for _, b := range buf[:n] {
			if b != 0 {
				return false, nil
			}
		}
		if err == io.EOF {
			return true, nil
		}
		if err != nil {
			return false, err
		}
	}
}

func (s *scanner) short(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return errTorn
	}
	return err
}
