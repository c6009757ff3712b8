package skill

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeSkill(t *testing.T, dir, name, content string) {
	t.Helper()
	skillDir := filepath.Join(dir, name)
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte(content), 0o644); err != nil {
		t.Fatalf("write skill: %v", err)
	}
}

func TestLoadParsesFrontMatter(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "github", `---
name: github
description: Work with GitHub
always: false
---

Use the gh CLI for everything.`)

	lib := NewLibrary(dir, testLogger())
	if err := lib.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	all := lib.All()
	if len(all) != 1 {
		t.Fatalf("got %d skills, want 1", len(all))
	}
	s := all[0]
	if s.Name != "github" || s.Description != "Work with GitHub" || s.Always {
		t.Fatalf("unexpected skill: %+v", s)
	}
	if s.Body != "Use the gh CLI for everything." {
		t.Fatalf("unexpected body: %q", s.Body)
	}
}

func TestLoadWithoutFrontMatter(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "notes", "Just some instructions.")

	lib := NewLibrary(dir, testLogger())
	if err := lib.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	all := lib.All()
	if len(all) != 1 {
		t.Fatalf("got %d skills, want 1", len(all))
	}
	if all[0].Name != "notes" {
		t.Fatalf("name not defaulted from directory: %q", all[0].Name)
	}
	if all[0].Body != "Just some instructions." {
		t.Fatalf("unexpected body: %q", all[0].Body)
	}
}

func TestAlwaysOnAndCatalogSplit(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "core", "---\nname: core\ndescription: Core habits\nalways: true\n---\n\nAlways be concise.")
	writeSkill(t, dir, "weather", "---\nname: weather\ndescription: Check the weather\n---\n\nCall the weather API.")

	lib := NewLibrary(dir, testLogger())
	if err := lib.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	always := lib.AlwaysOn()
	if len(always) != 1 || always[0].Name != "core" {
		t.Fatalf("unexpected always-on set: %+v", always)
	}

	catalog := lib.Catalog()
	if !strings.Contains(catalog, "weather: Check the weather") {
		t.Fatalf("catalog missing on-demand skill: %q", catalog)
	}
	if strings.Contains(catalog, "core") {
		t.Fatalf("catalog should not list always-on skills: %q", catalog)
	}
}

func TestLoadMissingDirIsEmpty(t *testing.T) {
	lib := NewLibrary(filepath.Join(t.TempDir(), "nope"), testLogger())
	if err := lib.Load(); err != nil {
		t.Fatalf("Load on missing dir: %v", err)
	}
	if len(lib.All()) != 0 {
		t.Fatalf("expected empty library")
	}
}

func TestLoadSkipsBrokenSkill(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "broken", "---\nname: [unclosed\n---\n\nbody")
	writeSkill(t, dir, "good", "---\nname: good\ndescription: ok\n---\n\nbody")

	lib := NewLibrary(dir, testLogger())
	if err := lib.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	all := lib.All()
	if len(all) != 1 || all[0].Name != "good" {
		t.Fatalf("broken skill not skipped: %+v", all)
	}
}
