package sim

// Snapshot is the wire form of one frame, published as the data of
// bus.TypeFrame events.
type Snapshot struct {
	Frame  uint64          `msgpack:"frame" json:"frame"`
	Path   string          `msgpack:"path" json:"path"`
	JobID  uint64          `msgpack:"job,omitempty" json:"job,omitempty"`
	Balls  []BallSnapshot  `msgpack:"balls" json:"balls"`
	Bricks []BrickSnapshot `msgpack:"bricks" json:"bricks"`
	Hits   []Hit           `msgpack:"hits,omitempty" json:"hits,omitempty"`
}

type BallSnapshot struct {
	ID       string     `msgpack:"id" json:"id"`
	Position [3]float64 `msgpack:"p" json:"p"`
	Velocity [3]float64 `msgpack:"v" json:"v"`
	// Rotation is w, x, y, z and only set while a physics world drives the balls.
	Rotation []float64 `msgpack:"r,omitempty" json:"r,omitempty"`
}

type BrickSnapshot struct {
	ID       string     `msgpack:"id" json:"id"`
	Position [3]float64 `msgpack:"p" json:"p"`
	Health   float64    `msgpack:"hp" json:"hp"`
}

// Snapshot copies the current state for rep's frame.
func (c *Context) Snapshot(rep Report) Snapshot {
	s := Snapshot{
		Frame:  rep.Frame,
		Path:   rep.Path.String(),
		JobID:  rep.JobID,
		Balls:  make([]BallSnapshot, len(c.balls)),
		Bricks: make([]BrickSnapshot, len(c.bricks)),
		Hits:   rep.Hits,
	}
	for i, b := range c.balls {
		bs := BallSnapshot{ID: b.ID, Position: b.Position, Velocity: b.Velocity}
		if q, ok := c.rotations[b.ID]; ok {
			bs.Rotation = []float64{q.W, q.V[0], q.V[1], q.V[2]}
		}
		s.Balls[i] = bs
	}
	for i, b := range c.bricks {
		s.Bricks[i] = BrickSnapshot{ID: b.ID, Position: b.Position, Health: b.Health}
	}
	return s
}
