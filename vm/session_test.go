package vm

import (
	"errors"
	"testing"
)

func sessionStory(t *testing.T) []byte {
	t.Helper()
	b := newStoryBuilder(3)
	b.addWords("look")
	b.poke(tbScratch, 20)
	b.poke(tbScratch+64, 5)
	b.emit(0xE4, 0x0F, uint8(tbScratch>>8), uint8(tbScratch&0xFF),
		uint8((tbScratch+64)>>8), uint8((tbScratch+64)&0xFF)) // sread
	b.emit(0xBA)
	return b.build(t)
}

func TestSessionResumeAcrossInput(t *testing.T) {
	story := sessionStory(t)

	s, err := NewSession(story)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Machine().Run(); err != nil {
		t.Fatal(err)
	}
	if s.Machine().State() != AwaitingLineInput {
		t.Fatalf("state: %s", s.Machine().State())
	}
	s.Machine().Events()

	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	// Resume in a fresh process and answer the prompt there.
	resumed, err := ResumeSession(story, snap)
	if err != nil {
		t.Fatalf("ResumeSession: %v", err)
	}
	if resumed.ID() != s.ID() {
		t.Errorf("identity changed: %s vs %s", resumed.ID(), s.ID())
	}

	m := resumed.Machine()
	if m.State() != AwaitingLineInput {
		t.Fatalf("resumed state: %s", m.State())
	}
	if err := m.ProvideLine("look"); err != nil {
		t.Fatalf("ProvideLine: %v", err)
	}
	if err := m.Run(); err != nil {
		t.Fatal(err)
	}
	if m.State() != Quit {
		t.Errorf("state: %s", m.State())
	}

	// The word was tokenized against the restored dictionary.
	if count, _ := m.Memory().ReadByte(tbScratch + 64 + 1); count != 1 {
		t.Errorf("token count: got %d", count)
	}
	if addr, _ := m.Memory().ReadWord(tbScratch + 64 + 2); addr == 0 {
		t.Error("token should resolve in the dictionary")
	}
}

func TestSessionRejectsWrongStory(t *testing.T) {
	story := sessionStory(t)
	s, err := NewSession(story)
	if err != nil {
		t.Fatal(err)
	}
	snap, err := s.Snapshot()
	if err != nil {
		t.Fatal(err)
	}

	other := newStoryBuilder(3)
	other.setGlobal(0, 1) // different dynamic content, different checksum
	other.emit(0xBA)
	if _, err := ResumeSession(other.build(t), snap); !errors.Is(err, ErrIncompatibleSave) {
		t.Errorf("expected ErrIncompatibleSave, got %v", err)
	}
}

func TestSessionRejectsGarbageSnapshot(t *testing.T) {
	story := sessionStory(t)
	if _, err := ResumeSession(story, []byte("not cbor")); !errors.Is(err, ErrCorruptSave) {
		t.Errorf("expected ErrCorruptSave, got %v", err)
	}
}

func TestSnapshotOfFatalMachineFails(t *testing.T) {
	b := newStoryBuilder(3)
	b.emit(0xD7, 0x0F, 0x00, 0x01, 0x00, 0x00, 0x10) // div 1 0
	b.emit(0xBA)

	s, err := NewSession(b.build(t))
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Machine().Run()

	if _, err := s.Snapshot(); err == nil {
		t.Error("expected an error snapshotting a faulted machine")
	}
}
