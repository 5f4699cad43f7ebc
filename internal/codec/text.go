// Package codec implements the compact text encoding used for every payload
// on the wire, plus the JSON wrapping applied to application values.
//
// Each code point is XOR-ed with the previous one and the difference is
// written with a self-describing 1/2/3 byte unit:
//
//	0xxxxxxx                     delta < 0x80
//	10xxxxxx xxxxxxxx            delta < 0x4000
//	11xxxxxx xxxxxxxx xxxxxxxx   everything else (up to 22 bits)
//
// Neighbouring characters of natural or structured text tend to be close, so
// most units collapse into a single byte.
package codec

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// seed is the accumulator value before the first code point.
const seed rune = 0x55

var (
	// ErrTruncated is returned when the buffer ends in the middle of a unit.
	ErrTruncated = errors.New("codec: truncated unit")
	// ErrInvalidRune is returned when a unit decodes to a value that is not a
	// valid Unicode scalar value.
	ErrInvalidRune = errors.New("codec: invalid code point")
)

// Encode converts s into its compact byte form. Code points are iterated as
// whole runes; an empty string encodes to an empty slice.
func Encode(s string) []byte {
	out := make([]byte, 0, len(s))
	prev := seed
	for _, c := range s {
		delta := uint32(prev ^ c)
		switch {
		case delta < 0x80:
			out = append(out, byte(delta))
		case delta < 0x4000:
			out = append(out, 0x80|byte(delta>>8), byte(delta))
		default:
			out = append(out, 0xC0|byte(delta>>16), byte(delta>>8), byte(delta))
		}
		prev = c
	}
	return out
}

// Decode reverses Encode. The length of each unit is read from the top bits
// of its first byte.
func Decode(b []byte) (string, error) {
	var sb strings.Builder
	sb.Grow(len(b))

	prev := seed
	for i := 0; i < len(b); {
		off := i
		first := b[i]

		var delta uint32
		switch {
		case first&0x80 == 0:
			delta = uint32(first)
			i++
		case first&0x40 == 0:
			if i+2 > len(b) {
				return "", fmt.Errorf("%w at offset %d", ErrTruncated, off)
			}
			delta = uint32(first&0x3F)<<8 | uint32(b[i+1])
			i += 2
		default:
			if i+3 > len(b) {
				return "", fmt.Errorf("%w at offset %d", ErrTruncated, off)
			}
			delta = uint32(first&0x3F)<<16 | uint32(b[i+1])<<8 | uint32(b[i+2])
			i += 3
		}

		c := rune(delta) ^ prev
		if !utf8.ValidRune(c) {
			return "", fmt.Errorf("%w U+%X at offset %d", ErrInvalidRune, c, off)
		}
		sb.WriteRune(c)
		prev = c
	}

	return sb.String(), nil
}
