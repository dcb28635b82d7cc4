package draw

import (
	"encoding/binary"
	"errors"
	"io"
	"math"

	"lukechampine.com/blake3"
)

var ErrEntropyExhausted = errors.New("draw: entropy exhausted")

// Entropy produces uniform integers in [0, n). Implementations decide where
// the randomness comes from; the draw only relies on this contract.
type Entropy interface {
	Intn(n uint64) (uint64, error)
}

// Sequence replays fixed values, each reduced modulo n. Tests use it to pin
// exactly which ticket ranks are drawn.
type Sequence struct {
	values []uint64
	next   int
}

func NewSequence(values ...uint64) *Sequence {
	return &Sequence{values: values}
}

func (s *Sequence) Intn(n uint64) (uint64, error) {
	if n == 0 {
		return 0, ErrEmptyPool
	}
	if s.next >= len(s.values) {
		return 0, ErrEntropyExhausted
	}
	v := s.values[s.next]
	s.next++
	return v % n, nil
}

// HashEntropy is a blake3 extendable-output stream. The same seed always
// yields the same draws, so anyone holding the seed can audit a round.
type HashEntropy struct {
	stream io.Reader
}

func NewHashEntropy(seed ...[]byte) *HashEntropy {
	h := blake3.New(32, nil)
	for _, part := range seed {
		// length prefix keeps ("ab","c") and ("a","bc") apart
		var size [8]byte
		binary.BigEndian.PutUint64(size[:], uint64(len(part)))
		_, _ = h.Write(size[:])
		_, _ = h.Write(part)
	}
	return &HashEntropy{stream: h.XOF()}
}

func (e *HashEntropy) Intn(n uint64) (uint64, error) {
	if n == 0 {
		return 0, ErrEmptyPool
	}

	// rejection sampling: discard values from the biased tail
	limit := math.MaxUint64 - (math.MaxUint64%n+1)%n
	var buf [8]byte
	for {
		if _, err := io.ReadFull(e.stream, buf[:]); err != nil {
			return 0, err
		}
		v := binary.BigEndian.Uint64(buf[:])
		if v <= limit {
			return v % n, nil
		}
	}
}
