package arq

// Reassembler accumulates the chunks of one inbound message. Chunks reach it
// strictly in order (the engine drops everything else), so it only appends.
// It is used under the owning socket's lock and needs no locking itself.
type Reassembler struct {
	typ    uint8
	buf    []byte
	active bool
}

// Feed appends one chunk. When chunk is 0 (the final countdown value) the
// complete message and its frame type are returned and the buffer is reset.
func (r *Reassembler) Feed(typ, chunk uint8, payload []byte) (msg []byte, msgType uint8, done bool) {
	if !r.active {
		r.typ = typ
		r.buf = r.buf[:0]
		r.active = true
	}
	r.buf = append(r.buf, payload...)

	if chunk != 0 {
		return nil, 0, false
	}

	msg = make([]byte, len(r.buf))
	copy(msg, r.buf)
	msgType = r.typ
	r.Reset()
	return msg, msgType, true
}

// Pending reports whether a message is partially assembled.
func (r *Reassembler) Pending() bool {
	return r.active
}

// Reset discards any partial message.
func (r *Reassembler) Reset() {
	r.active = false
	r.buf = r.buf[:0]
}
