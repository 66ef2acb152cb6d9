package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/muesli/termenv"

	"github.com/zedif/zed/config"
	"github.com/zedif/zed/vm"
)

// screen renders machine events on a plain terminal. There is no real
// upper window: status lines are drawn inline in reverse video and text
// sent to window 1 is dropped, which keeps v4+ status redraws from
// garbling the scrollback.
type screen struct {
	out        *termenv.Output
	width      int
	style      uint16
	window     uint16
	transcript *os.File
}

func newScreen(cfg *config.Config, noColor bool) *screen {
	opts := []termenv.OutputOption{}
	if noColor || !cfg.Screen.Color {
		opts = append(opts, termenv.WithProfile(termenv.Ascii))
	}
	return &screen{
		out:   termenv.NewOutput(os.Stdout, opts...),
		width: cfg.Screen.Width,
	}
}

func (s *screen) render(events []vm.Event, m *vm.Machine) {
	for _, ev := range events {
		switch ev := ev.(type) {
		case vm.TextEvent:
			if s.window != 0 {
				continue
			}
			fmt.Fprint(s.out, s.styled(ev.Text))
			if s.transcript != nil && m.Memory().TranscriptRequested() {
				s.transcript.WriteString(ev.Text)
			}

		case vm.StatusLineEvent:
			s.printStatus(ev)

		case vm.SetTextStyleEvent:
			s.style = ev.Style

		case vm.SetWindowEvent:
			s.window = ev.Window

		case vm.EraseWindowEvent:
			if ev.Window == -1 {
				s.out.ClearScreen()
				s.window = 0
			}

		case vm.SoundEvent:
			if ev.Number <= 2 {
				fmt.Fprint(s.out, "\a")
			}

		case vm.RestartEvent:
			s.out.ClearScreen()
			s.window = 0
			s.style = 0
		}
	}
}

// styled applies the story's current text style.
func (s *screen) styled(text string) string {
	if s.style == 0 {
		return text
	}
	st := s.out.String(text)
	if s.style&vm.StyleReverse != 0 {
		st = st.Reverse()
	}
	if s.style&vm.StyleBold != 0 {
		st = st.Bold()
	}
	if s.style&vm.StyleItalic != 0 {
		st = st.Italic()
	}
	return st.String()
}

// printStatus draws the v3 status line as a full-width reverse-video
// bar above the next prompt.
func (s *screen) printStatus(ev vm.StatusLineEvent) {
	var right string
	if ev.Timed {
		right = fmt.Sprintf("%d:%02d", ev.Hours, ev.Minutes)
	} else {
		right = fmt.Sprintf("Score: %d  Moves: %d", ev.Score, ev.Turns)
	}

	pad := s.width - len(ev.Location) - len(right) - 2
	if pad < 1 {
		pad = 1
	}
	line := " " + ev.Location + strings.Repeat(" ", pad) + right + " "
	fmt.Fprintln(s.out, s.out.String(line).Reverse().String())
}

func (s *screen) prompt(text string) {
	fmt.Fprint(s.out, text)
}

func (s *screen) openTranscript(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("cannot open transcript: %w", err)
	}
	s.transcript = f
	return nil
}

func (s *screen) closeTranscript() {
	if s.transcript != nil {
		s.transcript.Close()
	}
}
