// Package memory reads typed values, pointer chains and scatter batches
// out of a foreign process through a dma.Process.
package memory

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/afumu/barlens/dma"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Record is a fixed-size foreign structure with an explicit layout.
type Record interface {
	Size() int
	Decode(b []byte) error
}

// StringLayout locates the fields of a length-prefixed UTF-16 string
// object.
type StringLayout struct {
	LengthOffset uint64
	ValueOffset  uint64
}

// DefaultStringLayout matches the managed string header of the target
// runtime.
var DefaultStringLayout = StringLayout{LengthOffset: 0x10, ValueOffset: 0x14}

type Option func(*Reader)

// WithStopFlag shares a stop flag between readers, so one Stop call
// fails every in-flight read.
func WithStopFlag(flag *atomic.Bool) Option {
	return func(r *Reader) { r.stopped = flag }
}

func WithStringLayout(l StringLayout) Option {
	return func(r *Reader) { r.strings = l }
}

// Reader performs scoped reads against one attached process.
type Reader struct {
	proc    dma.Process
	stopped *atomic.Bool
	strings StringLayout
}

func NewReader(proc dma.Process, opts ...Option) *Reader {
	r := &Reader{
		proc:    proc,
		stopped: new(atomic.Bool),
		strings: DefaultStringLayout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reader) Process() dma.Process { return r.proc }

// Stop makes every subsequent read fail with ErrChannelShutdown.
func (r *Reader) Stop() { r.stopped.Store(true) }

func (r *Reader) Stopped() bool { return r.stopped.Load() }

func (r *Reader) checkRunning() error {
	if r.stopped.Load() {
		return ErrChannelShutdown
	}
	return nil
}

// ReadBuffer reads exactly size bytes at addr.
func (r *Reader) ReadBuffer(addr uint64, size int) ([]byte, error) {
	if size <= 0 || size > MaxBufferSize {
		return nil, &ReadError{What: "buffer", Addr: addr, Err: fmt.Errorf("%w: %d", ErrOutOfBounds, size)}
	}
	if err := r.checkRunning(); err != nil {
		return nil, err
	}
	buf, err := r.proc.ReadBytes(addr, size)
	if err != nil {
		return nil, &ReadError{What: "buffer", Addr: addr, Err: err}
	}
	if len(buf) != size {
		return nil, &ReadError{What: "buffer", Addr: addr, Err: fmt.Errorf("%w: got %d of %d bytes", ErrIncompleteRead, len(buf), size)}
	}
	return buf, nil
}

// ReadRecord fills rec from the rec.Size() bytes at addr.
func (r *Reader) ReadRecord(addr uint64, rec Record) error {
	buf, err := r.ReadBuffer(addr, rec.Size())
	if err != nil {
		return err
	}
	if err := rec.Decode(buf); err != nil {
		return &ReadError{What: fmt.Sprintf("%T", rec), Addr: addr, Err: err}
	}
	return nil
}

func (r *Reader) ReadUint64(addr uint64) (uint64, error) {
	buf, err := r.ReadBuffer(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

func (r *Reader) ReadInt32(addr uint64) (int32, error) {
	buf, err := r.ReadBuffer(addr, 4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf)), nil
}

func (r *Reader) ReadBool(addr uint64) (bool, error) {
	buf, err := r.ReadBuffer(addr, 1)
	if err != nil {
		return false, err
	}
	return buf[0] != 0, nil
}

// ReadInt32s reads count consecutive int32 values in one read.
func (r *Reader) ReadInt32s(addr uint64, count int) ([]int32, error) {
	if count == 0 {
		return nil, nil
	}
	if count < 0 || count*4 > MaxBufferSize {
		return nil, &ReadError{What: "int32 array", Addr: addr, Err: fmt.Errorf("%w: count %d", ErrOutOfBounds, count)}
	}
	buf, err := r.ReadBuffer(addr, count*4)
	if err != nil {
		return nil, err
	}
	out := make([]int32, count)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out, nil
}

// ReadPointer dereferences addr and fails with ErrNullPointer on zero.
func (r *Reader) ReadPointer(addr uint64) (uint64, error) {
	ptr, err := r.ReadUint64(addr)
	if err != nil {
		return 0, err
	}
	if ptr == 0 {
		return 0, &ReadError{What: "pointer", Addr: addr, Err: ErrNullPointer}
	}
	return ptr, nil
}

// ReadPointerOrZero dereferences addr, allowing a zero result.
func (r *Reader) ReadPointerOrZero(addr uint64) (uint64, error) {
	return r.ReadUint64(addr)
}

// ReadString reads up to maxLen bytes and cuts at the first NUL.
func (r *Reader) ReadString(addr uint64, maxLen int) (string, error) {
	if maxLen > PageSize {
		return "", &ReadError{What: "string", Addr: addr, Err: fmt.Errorf("%w: %d", ErrOutOfBounds, maxLen)}
	}
	buf, err := r.ReadBuffer(addr, maxLen)
	if err != nil {
		return "", err
	}
	return decodeCString(buf), nil
}

func decodeCString(buf []byte) string {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	if utf8.Valid(buf) {
		return string(buf)
	}
	// Non-UTF-8 native strings are Windows ANSI text.
	s, err := charmap.Windows1252.NewDecoder().Bytes(buf)
	if err != nil {
		return strings.ToValidUTF8(string(buf), string(utf8.RuneError))
	}
	return string(s)
}

// ReadForeignString reads a length-prefixed UTF-16 string object.
func (r *Reader) ReadForeignString(addr uint64) (string, error) {
	length, err := r.ReadInt32(addr + r.strings.LengthOffset)
	if err != nil {
		return "", err
	}
	if length < 0 || length > PageSize {
		return "", &ReadError{What: "foreign string", Addr: addr, Err: fmt.Errorf("%w: length %d", ErrOutOfBounds, length)}
	}
	if length == 0 {
		return "", nil
	}
	buf, err := r.ReadBuffer(addr+r.strings.ValueOffset, int(length)*2)
	if err != nil {
		return "", err
	}
	s, err := decodeUTF16(buf)
	if err != nil {
		return "", &ReadError{What: "foreign string", Addr: addr, Err: err}
	}
	return s, nil
}

func decodeUTF16(buf []byte) (string, error) {
	out, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(buf)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(out), "\x00"), nil
}
