package draw

import (
	"errors"

	"raffle/internal/token"
)

var ErrEmptyPool = errors.New("draw: ticket pool is empty")

// Pool is a sparse ticket pool: entry i holds the remaining ticket count of the
// i-th player in insertion order. A Fenwick tree over the counts resolves a
// ticket rank to its owner in O(log n) without materialising tickets.
type Pool struct {
	tree   []uint64
	counts []uint64
	total  uint64
}

func NewPool(counts []uint64) (*Pool, error) {
	p := &Pool{
		tree:   make([]uint64, len(counts)+1),
		counts: make([]uint64, len(counts)),
	}

	for i, c := range counts {
		if err := p.add(i, c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Pool) add(i int, delta uint64) error {
	total, err := token.Add(p.total, delta)
	if err != nil {
		return err
	}
	p.total = total
	p.counts[i] += delta
	for j := i + 1; j < len(p.tree); j += j & -j {
		p.tree[j] += delta
	}
	return nil
}

// Total is the number of tickets still in the pool.
func (p *Pool) Total() uint64 {
	return p.total
}

// Len is the number of entries, including exhausted ones.
func (p *Pool) Len() int {
	return len(p.counts)
}

func (p *Pool) Count(i int) uint64 {
	return p.counts[i]
}

// Find returns the entry owning the ticket at rank, 0 <= rank < Total.
func (p *Pool) Find(rank uint64) (int, error) {
	if rank >= p.total {
		return 0, ErrEmptyPool
	}

	pos := 0
	step := 1
	for step*2 < len(p.tree) {
		step *= 2
	}

	// descend to the largest prefix whose sum is <= rank
	for ; step > 0; step /= 2 {
		next := pos + step
		if next < len(p.tree) && p.tree[next] <= rank {
			pos = next
			rank -= p.tree[next]
		}
	}
	return pos, nil
}

// Remove takes one ticket away from entry i.
func (p *Pool) Remove(i int) error {
	if p.counts[i] == 0 {
		return ErrEmptyPool
	}
	p.counts[i]--
	p.total--
	for j := i + 1; j < len(p.tree); j += j & -j {
		p.tree[j]--
	}
	return nil
}
