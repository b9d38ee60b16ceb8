package codec

import (
	"encoding"
	"errors"
	"io"
)

var errNotCustomMarshaler = errors.New("not custom")

// Tries to encode the given data using user-provided marshalers. If the data
// does not implement either encoding.BinaryMarshaler or encoding.TextMarshaler,
// errNotCustomMarshaler is returned.
func encodeCustomMarshaler(w io.Writer, data any) error {
	if m, ok := data.(encoding.BinaryMarshaler); ok {
		b, err := m.MarshalBinary()
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	}

	if m, ok := data.(encoding.TextMarshaler); ok {
		b, err := m.MarshalText()
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	}

	return errNotCustomMarshaler
}

// Tries to decode b into ptr using user-provided unmarshalers. Reports false
// if ptr implements neither encoding.BinaryUnmarshaler nor
// encoding.TextUnmarshaler.
func decodeCustomMarshaler(b []byte, ptr any) (bool, error) {
	if m, ok := ptr.(encoding.BinaryUnmarshaler); ok {
		return true, m.UnmarshalBinary(b)
	}

	if m, ok := ptr.(encoding.TextUnmarshaler); ok {
		return true, m.UnmarshalText(b)
	}

	return false, nil
}
