package vm

// ---------------------------------------------------------------------------
// Undo
// ---------------------------------------------------------------------------

// maxUndoSnapshots bounds the undo history. Stories that save_undo
// every turn stay within a few megabytes of dynamic-memory copies.
const maxUndoSnapshots = 16

// snapshot holds everything restore_undo needs to wind the machine
// back: dynamic memory, the call stack and where execution resumes.
type snapshot struct {
	dynamic  []byte
	frames   []*Frame
	pc       uint32
	storeVar uint8
}

// snapshotMachine captures the machine mid-save_undo. The program
// counter has already advanced past the instruction, so resuming lands
// on its successor with storeVar receiving 2.
func snapshotMachine(m *Machine, storeVar uint8) *snapshot {
	dyn := make([]byte, len(m.mem.DynamicRegion()))
	copy(dyn, m.mem.DynamicRegion())
	return &snapshot{
		dynamic:  dyn,
		frames:   cloneFrames(m.stack.Frames()),
		pc:       m.pc,
		storeVar: storeVar,
	}
}

// restoreInto winds the machine back to the snapshot. The snapshot's
// own copies stay untouched so the same state could be restored again.
func (s *snapshot) restoreInto(m *Machine) {
	copy(m.mem.DynamicRegion(), s.dynamic)
	m.stack.replace(cloneFrames(s.frames))
	m.pc = s.pc
}

func cloneFrames(frames []*Frame) []*Frame {
	out := make([]*Frame, len(frames))
	for i, f := range frames {
		c := *f
		c.Locals = append([]uint16(nil), f.Locals...)
		c.Eval = append([]uint16(nil), f.Eval...)
		out[i] = &c
	}
	return out
}

// undoStack is a bounded stack of snapshots; pushing past the limit
// drops the oldest.
type undoStack struct {
	snaps []*snapshot
	limit int
}

func newUndoStack(limit int) *undoStack {
	return &undoStack{limit: limit}
}

func (u *undoStack) push(s *snapshot) {
	u.snaps = append(u.snaps, s)
	if len(u.snaps) > u.limit {
		copy(u.snaps, u.snaps[1:])
		u.snaps = u.snaps[:u.limit]
	}
}

// pop returns the most recent snapshot, or nil when none remain.
func (u *undoStack) pop() *snapshot {
	if len(u.snaps) == 0 {
		return nil
	}
	s := u.snaps[len(u.snaps)-1]
	u.snaps = u.snaps[:len(u.snaps)-1]
	return s
}
