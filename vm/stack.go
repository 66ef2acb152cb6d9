package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Frame: execution state of one routine call
// ---------------------------------------------------------------------------

// Frame holds everything a routine call needs: where to resume in the
// caller, the local variable slots (at most 15), this call's segment of
// the evaluation stack, and how the result is delivered. Frames form a
// strict LIFO stack; only the topmost frame mutates.
type Frame struct {
	ReturnPC      uint32
	Locals        []uint16
	Eval          []uint16
	StoreVariable uint8
	DiscardResult bool // call_*n forms throw the result away
	ArgCount      int  // arguments actually supplied, for check_arg_count
}

func (f *Frame) push(v uint16) {
	f.Eval = append(f.Eval, v)
}

func (f *Frame) pop() (uint16, error) {
	if len(f.Eval) == 0 {
		return 0, ErrStackUnderflow
	}
	v := f.Eval[len(f.Eval)-1]
	f.Eval = f.Eval[:len(f.Eval)-1]
	return v, nil
}

func (f *Frame) peek() (uint16, error) {
	if len(f.Eval) == 0 {
		return 0, ErrStackUnderflow
	}
	return f.Eval[len(f.Eval)-1], nil
}

// setTop overwrites the top of the evaluation stack in place, the
// behavior indirect variable references require.
func (f *Frame) setTop(v uint16) error {
	if len(f.Eval) == 0 {
		return ErrStackUnderflow
	}
	f.Eval[len(f.Eval)-1] = v
	return nil
}

// ---------------------------------------------------------------------------
// CallStack
// ---------------------------------------------------------------------------

// CallStack is the stack of active frames. The bottom frame is the
// story's main routine and is never popped by a return.
type CallStack struct {
	frames []*Frame
}

func (s *CallStack) push(f *Frame) {
	s.frames = append(s.frames, f)
}

func (s *CallStack) pop() (*Frame, error) {
	if len(s.frames) <= 1 {
		return nil, ErrCallStackUnderflow
	}
	f := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return f, nil
}

// current returns the topmost frame.
func (s *CallStack) current() *Frame {
	return s.frames[len(s.frames)-1]
}

// Depth reports the number of active frames. catch captures this value
// and throw unwinds back to it.
func (s *CallStack) Depth() int { return len(s.frames) }

// unwindTo discards frames until depth frames remain.
func (s *CallStack) unwindTo(depth int) error {
	if depth < 1 || depth > len(s.frames) {
		return fmt.Errorf("%w: depth %d of %d", ErrBadThrowFrame, depth, len(s.frames))
	}
	s.frames = s.frames[:depth]
	return nil
}

// Frames exposes the live frames bottom-up for the save codecs.
func (s *CallStack) Frames() []*Frame { return s.frames }

// replace swaps in a restored set of frames.
func (s *CallStack) replace(frames []*Frame) {
	s.frames = frames
}
