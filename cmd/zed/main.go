// Zed CLI - the main entry point for playing Z-Machine story files
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/zedif/zed/config"
	"github.com/zedif/zed/vm"
)

func main() {
	verbosity := flag.Int("v", 0, "Log verbosity (0 = errors only)")
	logPath := flag.String("log", "", "Log to this file instead of stderr")
	transcriptPath := flag.String("transcript", "", "Transcript file (overrides the configured directory)")
	resume := flag.String("resume", "", "Resume from a session snapshot file")
	noAutosave := flag.Bool("no-autosave", false, "Skip between-turn session snapshots")
	noColor := flag.Bool("no-color", false, "Plain output, no styling")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: zed [options] story-file\n\n")
		fmt.Fprintf(os.Stderr, "Plays a Z-Machine story file (versions 3-8) on the terminal.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  zed zork1.z3                     # Play a story\n")
		fmt.Fprintf(os.Stderr, "  zed -transcript game.txt story.z5  # Keep a transcript\n")
		fmt.Fprintf(os.Stderr, "  zed -resume .zed/abc.snap story.z5 # Pick up where you left off\n")
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	storyPath := flag.Arg(0)

	if *logPath != "" {
		commonlog.Configure(*verbosity, logPath)
	} else {
		commonlog.Configure(*verbosity, nil)
	}
	log := commonlog.GetLogger("zed")

	cfg, err := config.FindAndLoad(filepath.Dir(storyPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	story, err := os.ReadFile(storyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading story: %v\n", err)
		os.Exit(1)
	}

	session, err := openSession(story, *resume)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	machine := session.Machine()
	machine.Memory().SetScreenSize(uint8(cfg.Screen.Width), uint8(cfg.Screen.Height))

	scr := newScreen(cfg, *noColor)
	if *transcriptPath != "" {
		if err := scr.openTranscript(*transcriptPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer scr.closeTranscript()
	}

	stdin := bufio.NewReader(os.Stdin)
	storyName := strings.TrimSuffix(filepath.Base(storyPath), filepath.Ext(storyPath))

	machine.OnSave = func(data []byte) error {
		return promptAndWriteSave(scr, stdin, cfg, storyName, data)
	}
	machine.OnRestore = func() ([]byte, error) {
		return promptAndReadSave(scr, stdin, cfg, storyName)
	}

	autosavePath := filepath.Join(cfg.AutosaveDirPath(), session.ID()+".snap")

	for {
		runErr := machine.Run()
		scr.render(machine.Events(), machine)

		if runErr != nil {
			fmt.Fprintf(os.Stderr, "\nStory fault: %v\n", runErr)
			os.Exit(1)
		}

		switch machine.State() {
		case vm.Quit:
			return

		case vm.AwaitingLineInput:
			line, err := stdin.ReadString('\n')
			if err != nil {
				log.Infof("input closed: %s", err)
				return
			}
			if err := machine.ProvideLine(strings.TrimRight(line, "\r\n")); err != nil {
				fmt.Fprintf(os.Stderr, "\nStory fault: %v\n", err)
				os.Exit(1)
			}
			if cfg.Autosave.Enabled && !*noAutosave {
				if err := writeAutosave(session, autosavePath); err != nil {
					log.Errorf("autosave failed: %s", err)
				}
			}

		case vm.AwaitingCharInput:
			line, err := stdin.ReadString('\n')
			if err != nil {
				log.Infof("input closed: %s", err)
				return
			}
			c := '\n'
			for _, r := range strings.TrimRight(line, "\r\n") {
				c = r
				break
			}
			if err := machine.ProvideChar(c); err != nil {
				fmt.Fprintf(os.Stderr, "\nStory fault: %v\n", err)
				os.Exit(1)
			}
		}
	}
}

// openSession starts fresh or resumes a snapshot file.
func openSession(story []byte, resumePath string) (*vm.Session, error) {
	if resumePath == "" {
		return vm.NewSession(story)
	}
	snap, err := os.ReadFile(resumePath)
	if err != nil {
		return nil, fmt.Errorf("cannot read snapshot: %w", err)
	}
	return vm.ResumeSession(story, snap)
}

func writeAutosave(session *vm.Session, path string) error {
	snap, err := session.Snapshot()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, snap, 0o644)
}

// promptAndWriteSave asks for a name and writes the save file into the
// configured save directory.
func promptAndWriteSave(scr *screen, stdin *bufio.Reader, cfg *config.Config, storyName string, data []byte) error {
	name, err := promptFileName(scr, stdin, storyName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.SaveDirPath(), 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cfg.SaveDirPath(), name), data, 0o644)
}

func promptAndReadSave(scr *screen, stdin *bufio.Reader, cfg *config.Config, storyName string) ([]byte, error) {
	name, err := promptFileName(scr, stdin, storyName)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(cfg.SaveDirPath(), name))
}

func promptFileName(scr *screen, stdin *bufio.Reader, storyName string) (string, error) {
	def := storyName + ".qzl"
	scr.prompt(fmt.Sprintf("File name [%s]: ", def))
	line, err := stdin.ReadString('\n')
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(line)
	if name == "" {
		name = def
	}
	return name, nil
}
