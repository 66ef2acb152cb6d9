package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	c := Default()
	if c.Screen.Width != 80 || c.Screen.Height != 24 {
		t.Errorf("screen: %dx%d", c.Screen.Width, c.Screen.Height)
	}
	if !c.Autosave.Enabled {
		t.Error("autosave should default on")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	content := `
[screen]
width = 120

[files]
save-dir = "mysaves"

[autosave]
enabled = false
`
	if err := os.WriteFile(filepath.Join(dir, "zed.toml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Screen.Width != 120 {
		t.Errorf("width: got %d", c.Screen.Width)
	}
	if c.Screen.Height != 24 {
		t.Errorf("height should keep its default, got %d", c.Screen.Height)
	}
	if c.Autosave.Enabled {
		t.Error("autosave should be off")
	}
	if got := c.SaveDirPath(); got != filepath.Join(c.Dir, "mysaves") {
		t.Errorf("save dir: got %s", got)
	}
}

func TestLoadRejectsBadTOML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "zed.toml"), []byte("[screen\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Error("expected a parse error")
	}
}

func TestFindAndLoadWalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "zed.toml"), []byte("[screen]\nwidth = 100\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if c.Screen.Width != 100 {
		t.Errorf("width: got %d", c.Screen.Width)
	}
}

func TestFindAndLoadDefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	c, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if c.Screen.Width != 80 {
		t.Errorf("width: got %d", c.Screen.Width)
	}
	if c.Dir != dir {
		t.Errorf("dir: got %s", c.Dir)
	}
}
