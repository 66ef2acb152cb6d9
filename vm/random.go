package vm

import (
	mrand "math/rand/v2"
	"time"
)

// ---------------------------------------------------------------------------
// Random number generator
// ---------------------------------------------------------------------------

// randomSource backs the random opcode. It runs in one of two modes:
// random, the default, and predictable after the story seeds it with a
// negative argument. Predictable mode with a small seed counts 1, 2, ...
// seed in a cycle, which is what test scripts written against the
// classic interpreters expect; larger seeds reseed the generator
// deterministically instead.
type randomSource struct {
	rng        *mrand.Rand
	sequential bool
	seed       uint16
	counter    uint16
}

func newRandomSource() *randomSource {
	r := &randomSource{}
	r.Reseed()
	return r
}

// Reseed returns the source to random mode with a fresh seed.
func (r *randomSource) Reseed() {
	now := uint64(time.Now().UnixNano())
	r.rng = mrand.New(mrand.NewPCG(now, now>>32|1))
	r.sequential = false
}

// Seed puts the source in predictable mode.
func (r *randomSource) Seed(seed uint16) {
	if seed < 1000 {
		r.sequential = true
		r.seed = seed
		r.counter = 0
		return
	}
	r.rng = mrand.New(mrand.NewPCG(uint64(seed), uint64(seed)))
	r.sequential = false
}

// Roll draws a value in [1, n]. n must be positive.
func (r *randomSource) Roll(n uint16) uint16 {
	if r.sequential && r.seed > 0 {
		r.counter++
		if r.counter > r.seed {
			r.counter = 1
		}
		return (r.counter-1)%n + 1
	}
	return uint16(r.rng.IntN(int(n))) + 1
}
