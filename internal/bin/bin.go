// Package bin reads and writes the 32-bit scalars the wire format is
// built from. The format is host-endian, hence the casts instead of
// encoding/binary.
package bin

import (
	"io"
	"unsafe"
)

// Word is any type that goes on the wire as a single 32-bit scalar.
type Word interface {
	~int32 | ~uint32
}

func Bytes[T Word](v T) [4]byte {
	return *(*[4]byte)(unsafe.Pointer(&v))
}

func Value[T Word](data [4]byte) T {
	return *(*T)(unsafe.Pointer(&data))
}

func Read[T Word](r io.Reader) (T, error) {
	var data [4]byte
	if _, err := io.ReadFull(r, data[:]); err != nil {
		return 0, err
	}
	return Value[T](data), nil
}

func Write[T Word](w io.Writer, v T) error {
	data := Bytes(v)
	n, err := w.Write(data[:])
	if err == nil && n < len(data) {
		return io.ErrShortWrite
	}
	return err
}
