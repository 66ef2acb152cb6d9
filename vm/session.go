package vm

import (
	"bytes"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------
//
// A Session wraps a machine with a stable identity and a snapshot
// format that captures interpreter state Quetzal has no room for:
// stream selection, the random generator, and a pending input request.
// Snapshots are CBOR, canonically encoded, and only resume against the
// same story file. The host autosaves these between turns; Quetzal
// remains the format for the story's own save opcode.

var sessionEncMode cbor.EncMode

func init() {
	var err error
	sessionEncMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

type sessionFrame struct {
	ReturnPC      uint32   `cbor:"1,keyasint"`
	Locals        []uint16 `cbor:"2,keyasint"`
	Eval          []uint16 `cbor:"3,keyasint"`
	StoreVariable uint8    `cbor:"4,keyasint"`
	DiscardResult bool     `cbor:"5,keyasint"`
	ArgCount      int      `cbor:"6,keyasint"`
}

type sessionState struct {
	ID      string    `cbor:"1,keyasint"`
	SavedAt time.Time `cbor:"2,keyasint"`

	Release  uint16 `cbor:"3,keyasint"`
	Serial   []byte `cbor:"4,keyasint"`
	Checksum uint16 `cbor:"5,keyasint"`

	State   uint8          `cbor:"6,keyasint"`
	PC      uint32         `cbor:"7,keyasint"`
	Dynamic []byte         `cbor:"8,keyasint"`
	Frames  []sessionFrame `cbor:"9,keyasint"`

	Screen      bool   `cbor:"10,keyasint"`
	Capture     bool   `cbor:"11,keyasint"`
	CaptureBase uint32 `cbor:"12,keyasint"`
	CaptureLen  uint16 `cbor:"13,keyasint"`
	Recording   bool   `cbor:"14,keyasint"`

	RandSequential bool   `cbor:"15,keyasint"`
	RandSeed       uint16 `cbor:"16,keyasint"`
	RandCounter    uint16 `cbor:"17,keyasint"`

	PendingAddr     uint32   `cbor:"18,keyasint"`
	PendingOperands []uint16 `cbor:"19,keyasint"`
}

// Session is a machine plus the identity its autosaves carry.
type Session struct {
	id      uuid.UUID
	machine *Machine
}

// NewSession loads a story into a fresh session.
func NewSession(story []byte) (*Session, error) {
	m, err := NewMachine(story)
	if err != nil {
		return nil, err
	}
	return &Session{id: uuid.New(), machine: m}, nil
}

// ID is the session's identity, stable across snapshots.
func (s *Session) ID() string { return s.id.String() }

// Machine exposes the session's machine.
func (s *Session) Machine() *Machine { return s.machine }

// Snapshot captures the whole interpreter state as CBOR. A machine in
// the Fatal state has nothing worth resuming and cannot be snapshot.
func (s *Session) Snapshot() ([]byte, error) {
	m := s.machine
	if m.state == Fatal {
		return nil, fmt.Errorf("%w: machine is %s", ErrNotRunning, m.state)
	}

	serial := m.mem.Serial()
	st := sessionState{
		ID:       s.id.String(),
		SavedAt:  time.Now().UTC(),
		Release:  m.mem.Release(),
		Serial:   serial[:],
		Checksum: m.mem.Checksum(),

		State:   uint8(m.state),
		PC:      m.pc,
		Dynamic: append([]byte(nil), m.mem.DynamicRegion()...),

		Screen:      m.streams.screen,
		Capture:     m.streams.capture,
		CaptureBase: m.streams.captureBase,
		CaptureLen:  m.streams.captureLen,
		Recording:   m.streams.recording,

		RandSequential: m.rng.sequential,
		RandSeed:       m.rng.seed,
		RandCounter:    m.rng.counter,
	}
	for _, f := range m.stack.Frames() {
		st.Frames = append(st.Frames, sessionFrame{
			ReturnPC:      f.ReturnPC,
			Locals:        f.Locals,
			Eval:          f.Eval,
			StoreVariable: f.StoreVariable,
			DiscardResult: f.DiscardResult,
			ArgCount:      f.ArgCount,
		})
	}
	if m.pending != nil {
		st.PendingAddr = m.pending.Addr
		st.PendingOperands = m.pendingOperands
	}

	return sessionEncMode.Marshal(&st)
}

// ResumeSession rebuilds a session from a snapshot taken against the
// same story file.
func ResumeSession(story, snap []byte) (*Session, error) {
	var st sessionState
	if err := cbor.Unmarshal(snap, &st); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCorruptSave, err)
	}

	id, err := uuid.Parse(st.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: bad session id %q", ErrCorruptSave, st.ID)
	}

	m, err := NewMachine(story)
	if err != nil {
		return nil, err
	}

	serial := m.mem.Serial()
	if st.Release != m.mem.Release() || !bytes.Equal(st.Serial, serial[:]) ||
		st.Checksum != m.mem.Checksum() {
		return nil, fmt.Errorf("%w: snapshot is for release %d serial %s",
			ErrIncompatibleSave, st.Release, st.Serial)
	}
	if len(st.Dynamic) != len(m.mem.DynamicRegion()) {
		return nil, fmt.Errorf("%w: snapshot dynamic memory is %d bytes, story needs %d",
			ErrCorruptSave, len(st.Dynamic), len(m.mem.DynamicRegion()))
	}
	if len(st.Frames) == 0 {
		return nil, fmt.Errorf("%w: snapshot has no call frames", ErrCorruptSave)
	}

	copy(m.mem.DynamicRegion(), st.Dynamic)
	frames := make([]*Frame, len(st.Frames))
	for i, f := range st.Frames {
		frames[i] = &Frame{
			ReturnPC:      f.ReturnPC,
			Locals:        f.Locals,
			Eval:          f.Eval,
			StoreVariable: f.StoreVariable,
			DiscardResult: f.DiscardResult,
			ArgCount:      f.ArgCount,
		}
	}
	m.stack.replace(frames)
	m.pc = st.PC
	m.state = State(st.State)

	m.streams.screen = st.Screen
	m.streams.capture = st.Capture
	m.streams.captureBase = st.CaptureBase
	m.streams.captureLen = st.CaptureLen
	m.streams.recording = st.Recording

	m.rng.sequential = st.RandSequential
	m.rng.seed = st.RandSeed
	m.rng.counter = st.RandCounter

	if m.state == AwaitingLineInput || m.state == AwaitingCharInput {
		pending, err := m.decoder.Decode(st.PendingAddr)
		if err != nil {
			return nil, fmt.Errorf("%w: pending instruction: %s", ErrCorruptSave, err)
		}
		m.pending = pending
		m.pendingOperands = st.PendingOperands
	}

	return &Session{id: id, machine: m}, nil
}
