// Package clock encodes frame timestamps and estimates the clock offset
// between two peers from the timestamps they embed.
package clock

import (
	"encoding/binary"
	"time"
)

const (
	// TimestampSize is the wire size of an encoded timestamp.
	TimestampSize = 8

	// DayMillis is the length of one day in milliseconds.
	DayMillis int64 = 24 * 60 * 60 * 1000
)

// Now returns the current wall clock in milliseconds since the Unix epoch.
func Now() int64 {
	return time.Now().UnixMilli()
}

// PutTimestamp writes ms into buf[0:8] as two little-endian int32 values:
// the whole-day count followed by the milliseconds within that day. Both
// halves keep the sign of ms, so pre-epoch values survive the trip.
func PutTimestamp(buf []byte, ms int64) {
	_ = buf[TimestampSize-1]
	within := ms % DayMillis
	days := (ms - within) / DayMillis
	binary.LittleEndian.PutUint32(buf[0:4], uint32(int32(days)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(int32(within)))
}

// Timestamp reads a value written by PutTimestamp.
func Timestamp(buf []byte) int64 {
	_ = buf[TimestampSize-1]
	days := int64(int32(binary.LittleEndian.Uint32(buf[0:4])))
	within := int64(int32(binary.LittleEndian.Uint32(buf[4:8])))
	return days*DayMillis + within
}
