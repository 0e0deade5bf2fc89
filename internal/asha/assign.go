package asha

import (
	"errors"
	"math/rand/v2"
)

// ErrNoCapacity is returned when every bracket has reached its quota.
var ErrNoCapacity = errors.New("no bracket accepts new trials")

// Assign picks the bracket for the trial with the given sample index. The
// draw is a function of (seed, index) only, so a restored run assigns the
// same way as an uninterrupted one. Open brackets are weighted by quota.
func Assign(seed uint64, index int, brackets []*Bracket) (*Bracket, error) {
	var total int
	for _, b := range brackets {
		if b.Open() {
			total += b.Quota
		}
	}
	if total == 0 {
		return nil, ErrNoCapacity
	}
	r := rand.New(rand.NewPCG(seed, uint64(index)^0x9e3779b97f4a7c15))
	pick := r.IntN(total)
	for _, b := range brackets {
		if !b.Open() {
			continue
		}
		if pick < b.Quota {
			return b, nil
		}
		pick -= b.Quota
	}
	return nil, ErrNoCapacity
}
