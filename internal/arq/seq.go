package arq

// Seq is a mod-256 frame counter. Arithmetic on uint8 wraps on its own, so
// the helpers only exist to name the intent at call sites.
type Seq uint8

// Next returns the value following s.
func (s Seq) Next() Seq {
	return s + 1
}

// Follows reports whether s is the immediate successor of prev.
func (s Seq) Follows(prev Seq) bool {
	return s == prev.Next()
}
