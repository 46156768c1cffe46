package run

import (
	"strconv"
	"sync/atomic"
)

// Sequence issues run identifiers "1", "2", "3", ... Identifiers are unique
// only within one Sequence; they are not random.
type Sequence struct {
	n atomic.Uint64
}

// Next advances the sequence and returns the new identifier.
func (s *Sequence) Next() string {
	return strconv.FormatUint(s.n.Add(1), 10)
}

// Issued returns how many identifiers have been handed out.
func (s *Sequence) Issued() uint64 {
	return s.n.Load()
}

// Less orders identifiers in issuance order.
func Less(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
