// Package payload generates the synthetic messages fed into the dispatch queue.
//
// Every message is a JSON object with ten alphanumeric string fields, v0
// through v9, whose lengths are fixed so that message sizes stay comparable
// across runs.
package payload

import (
	"encoding/json"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"
)

// FieldLengths holds the length of field vN at index N.
var FieldLengths = [10]int{171, 164, 167, 194, 137, 199, 159, 173, 187, 128}

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Generator produces random payloads. It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a Generator seeded from seed. A zero seed uses the clock.
func New(seed uint64) *Generator {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Next returns one encoded message.
func (g *Generator) Next() []byte {
	fields := make(map[string]string, len(FieldLengths))
	g.mu.Lock()
	for i, n := range FieldLengths {
		fields["v"+strconv.Itoa(i)] = g.randomString(n)
	}
	g.mu.Unlock()

	data, _ := json.Marshal(fields)
	return data
}

// Batch returns n encoded messages.
func (g *Generator) Batch(n int) [][]byte {
	if n <= 0 {
		return nil
	}
	out := make([][]byte, n)
	for i := range out {
		out[i] = g.Next()
	}
	return out
}

func (g *Generator) randomString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[g.rng.IntN(len(alphabet))]
	}
	return string(b)
}
