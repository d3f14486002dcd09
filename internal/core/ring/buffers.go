package ring

import (
	"github.com/zeusync/ballphys/internal/core/collide"
	"github.com/zeusync/ballphys/internal/core/kernel"
)

// Per-slot scalar metadata layout in Buffers.Meta.
const (
	metaCount = iota
	metaDelta
	metaArenaX
	metaArenaY
	metaArenaZ
	metaStride
)

// Control register indices.
const (
	ctrlSubmitted = iota
	ctrlCompleted
	ctrlFailed
	ctrlLen
)

// Buffers is the memory shared by producer and consumer. Every slot has the
// same capacity; slot i owns the i-th capacity-sized window of each array.
// Outside the flag words nothing here is synchronised: a side may only touch
// a slot's windows while the slot's flag says that side owns it.
type Buffers struct {
	Capacity int
	RingSize int

	Positions  []float64
	Velocities []float64
	Radii      []float64
	Damages    []float64
	HitIndices []int32
	Meta       []float64

	// SlotBricks is the brick snapshot the consumer used for slot i. It is
	// written by the consumer before it publishes done.
	SlotBricks [][]collide.Brick

	Flags   Cells
	Control Cells

	wake *notifier
}

func newBuffers(capacity, ringSize int, cells func(int) Cells) *Buffers {
	return &Buffers{
		Capacity:   capacity,
		RingSize:   ringSize,
		Positions:  make([]float64, ringSize*capacity*3),
		Velocities: make([]float64, ringSize*capacity*3),
		Radii:      make([]float64, ringSize*capacity),
		Damages:    make([]float64, ringSize*capacity),
		HitIndices: make([]int32, ringSize*capacity),
		Meta:       make([]float64, ringSize*metaStride),
		SlotBricks: make([][]collide.Brick, ringSize),
		Flags:      cells(ringSize),
		Control:    cells(ctrlLen),
		wake:       newNotifier(),
	}
}

func (b *Buffers) vec3Window(arr []float64, slot, count int) []float64 {
	base := slot * b.Capacity * 3
	return arr[base : base+count*3 : base+b.Capacity*3]
}

func (b *Buffers) scalarWindow(arr []float64, slot, count int) []float64 {
	base := slot * b.Capacity
	return arr[base : base+count : base+b.Capacity]
}

func (b *Buffers) hitWindow(slot, count int) []int32 {
	base := slot * b.Capacity
	return b.HitIndices[base : base+count : base+b.Capacity]
}

func (b *Buffers) meta(slot int) []float64 {
	return b.Meta[slot*metaStride : (slot+1)*metaStride]
}

// batch views slot's windows as a kernel batch without copying.
func (b *Buffers) batch(slot int, bricks []collide.Brick) kernel.Batch {
	m := b.meta(slot)
	count := int(m[metaCount])
	return kernel.Batch{
		Count:      count,
		Delta:      m[metaDelta],
		Arena:      kernel.Arena{X: m[metaArenaX], Y: m[metaArenaY], Z: m[metaArenaZ]},
		Positions:  b.vec3Window(b.Positions, slot, count),
		Velocities: b.vec3Window(b.Velocities, slot, count),
		Radii:      b.scalarWindow(b.Radii, slot, count),
		Damages:    b.scalarWindow(b.Damages, slot, count),
		Bricks:     bricks,
	}
}
