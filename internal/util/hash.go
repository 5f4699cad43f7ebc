// Package util provides shared utility functions.
package util

import (
	"hash/fnv"
)

// PeerTag computes a 4-byte hash of a peer key ("host:port"). It is used
// only to prefix log lines with a short, stable identifier.
func PeerTag(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}
