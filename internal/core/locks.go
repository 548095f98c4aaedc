package core

import (
	"hash/maphash"
	"sync"
)

const lockStripes = 256

// pairLocks serializes presence transitions and membership writes for a
// (room, user) pair. Distinct pairs may share a stripe.
type pairLocks struct {
	seed    maphash.Seed
	stripes [lockStripes]sync.Mutex
}

func newPairLocks() *pairLocks {
	return &pairLocks{seed: maphash.MakeSeed()}
}

// lock acquires the stripe for (room, user) and returns its unlock func.
func (l *pairLocks) lock(room, user string) func() {
	var h maphash.Hash
	h.SetSeed(l.seed)
	_, _ = h.WriteString(room)
	_ = h.WriteByte(0)
	_, _ = h.WriteString(user)
	mu := &l.stripes[h.Sum64()%lockStripes]
	mu.Lock()
	return mu.Unlock
}
