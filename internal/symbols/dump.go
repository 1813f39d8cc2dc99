package symbols

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	maxTableLen  = 1 << 24
	maxStringLen = 1 << 28
)

var errBadStringRef = errors.New("string reference out of range")

// DumpWriter writes the compact binary dump format: zig-zag varint int32,
// uvarint uint32 and interned strings. The first error sticks; check Err
// or Flush once at the end.
type DumpWriter struct {
	w       *bufio.Writer
	strings map[string]uint32
	buf     [binary.MaxVarintLen64]byte
	err     error
}

// NewDumpWriter wraps w.
func NewDumpWriter(w io.Writer) *DumpWriter {
	return &DumpWriter{w: bufio.NewWriter(w), strings: make(map[string]uint32)}
}

func (d *DumpWriter) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *DumpWriter) write(p []byte) {
	if d.err != nil {
		return
	}
	if _, err := d.w.Write(p); err != nil {
		d.fail(err)
	}
}

func (d *DumpWriter) WriteUint8(b byte) {
	d.write([]byte{b})
}

func (d *DumpWriter) WriteInt32(v int32) {
	n := binary.PutVarint(d.buf[:], int64(v))
	d.write(d.buf[:n])
}

func (d *DumpWriter) WriteUint32(v uint32) {
	n := binary.PutUvarint(d.buf[:], uint64(v))
	d.write(d.buf[:n])
}

// WriteString writes 0 plus the length-prefixed bytes the first time s
// is seen, and its 1-based position afterwards.
func (d *DumpWriter) WriteString(s string) {
	if idx, ok := d.strings[s]; ok {
		d.WriteUint32(idx)
		return
	}
	d.WriteUint32(0)
	d.WriteUint32(uint32(len(s)))
	d.write([]byte(s))
	d.strings[s] = uint32(len(d.strings) + 1)
}

// Flush writes buffered data and reports the first error.
func (d *DumpWriter) Flush() error {
	if d.err != nil {
		return d.err
	}
	return d.w.Flush()
}

func (d *DumpWriter) Err() error { return d.err }

// DumpReader reads what DumpWriter wrote.
type DumpReader struct {
	r       *bufio.Reader
	strings []string
	err     error
}

// NewDumpReader wraps r.
func NewDumpReader(r io.Reader) *DumpReader {
	return &DumpReader{r: bufio.NewReader(r)}
}

func (d *DumpReader) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *DumpReader) ReadUint8() uint8 {
	if d.err != nil {
		return 0
	}
	b, err := d.r.ReadByte()
	if err != nil {
		d.fail(fmt.Errorf("reading byte: %w", err))
	}
	return b
}

func (d *DumpReader) ReadInt32() int32 {
	if d.err != nil {
		return 0
	}
	v, err := binary.ReadVarint(d.r)
	if err != nil {
		d.fail(fmt.Errorf("reading int32: %w", err))
		return 0
	}
	if v < -1<<31 || v > 1<<31-1 {
		d.fail(fmt.Errorf("int32 out of range: %d", v))
		return 0
	}
	return int32(v)
}

func (d *DumpReader) ReadUint32() uint32 {
	if d.err != nil {
		return 0
	}
	v, err := binary.ReadUvarint(d.r)
	if err != nil {
		d.fail(fmt.Errorf("reading uint32: %w", err))
		return 0
	}
	if v > 1<<32-1 {
		d.fail(fmt.Errorf("uint32 out of range: %d", v))
		return 0
	}
	return uint32(v)
}

func (d *DumpReader) ReadString() string {
	idx := d.ReadUint32()
	if d.err != nil {
		return ""
	}
	if idx > 0 {
		if int(idx) > len(d.strings) {
			d.fail(fmt.Errorf("%w: %d", errBadStringRef, idx))
			return ""
		}
		return d.strings[idx-1]
	}
	n := d.ReadUint32()
	if d.err != nil {
		return ""
	}
	if n > maxStringLen {
		d.fail(fmt.Errorf("string too long: %d", n))
		return ""
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		d.fail(fmt.Errorf("reading string: %w", err))
		return ""
	}
	s := string(buf)
	d.strings = append(d.strings, s)
	return s
}

func (d *DumpReader) Err() error { return d.err }
