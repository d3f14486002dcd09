package collide

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint hashes the ids and positions of bricks in order. Two lists with
// the same fingerprint are treated as the same snapshot.
func Fingerprint(bricks []Brick) uint64 {
	d := xxhash.New()
	var buf [8]byte
	for _, b := range bricks {
		_, _ = d.WriteString(b.ID)
		for _, c := range b.Position {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(c))
			_, _ = d.Write(buf[:])
		}
	}
	binary.LittleEndian.PutUint64(buf[:], uint64(len(bricks)))
	_, _ = d.Write(buf[:])
	return d.Sum64()
}
