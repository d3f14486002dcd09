package ring

import (
	"github.com/zeusync/ballphys/internal/core/collide"
)

// MessageType tags control messages exchanged with the consumer worker.
type MessageType string

const (
	MessageInit         MessageType = "init"
	MessageUpdateBricks MessageType = "updateBricks"
	MessageShutdown     MessageType = "shutdown"

	// MessageLog and MessageError flow from the worker back to the runtime.
	MessageLog   MessageType = "log"
	MessageError MessageType = "error"
)

// InitPayload hands the worker its shared buffers.
type InitPayload struct {
	Buffers  *Buffers
	Bricks   []collide.Brick
	Capacity int
	RingSize int
}

type Message struct {
	Type   MessageType
	Init   *InitPayload
	Bricks []collide.Brick
	// Seq orders brick snapshots; the worker ignores one older than what it holds.
	Seq  uint64
	Args []any
}
