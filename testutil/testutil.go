package testutil

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/hupe1980/casefs"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Payload returns n random bytes. Random bytes do not compress, so this is
// the worst case for the block driver.
func (r *RNG) Payload(n int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf := make([]byte, n)
	_, _ = r.rand.Read(buf)
	return buf
}

// FieldPayload returns cells float32 values encoded little-endian. Values
// follow a smooth gradient with small noise, similar to a simulated field.
func (r *RNG) FieldPayload(cells int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf := make([]byte, 4*cells)
	base := r.rand.Float32() * 100
	for i := range cells {
		v := base + float32(i)*0.01 + float32(r.rand.NormFloat64())*0.001
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// Name returns a random upper-case keyword of length n.
func (r *RNG) Name(n int) string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	r.mu.Lock()
	defer r.mu.Unlock()
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[r.rand.Intn(len(letters))]
	}
	return string(b)
}

// Key returns a random key over the given name set.
func (r *RNG) Key(names []string, realizations, steps int) casefs.Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	return casefs.Key{
		Name:        names[r.rand.Intn(len(names))],
		Realization: r.rand.Intn(realizations),
		ReportStep:  r.rand.Intn(steps),
	}
}

// Keys returns every combination of names, realizations and steps in
// shuffled order.
func (r *RNG) Keys(names []string, realizations, steps int) []casefs.Key {
	keys := make([]casefs.Key, 0, len(names)*realizations*steps)
	for _, name := range names {
		for realization := range realizations {
			for step := range steps {
				keys = append(keys, casefs.Key{Name: name, Realization: realization, ReportStep: step})
			}
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
	return keys
}

// Names returns n distinct keyword names like "KW0001".
func Names(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("KW%04d", i)
	}
	return out
}
