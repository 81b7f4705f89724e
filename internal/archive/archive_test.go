package archive

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zip"
)

// writeZip builds a ZIP at path from name -> content; names ending in "/"
// become directories.
func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if !strings.HasSuffix(name, "/") {
			w.Write([]byte(content))
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

// readTree returns relative path -> content for every file under dir.
func readTree(t *testing.T, dir string) map[string]string {
	t.Helper()
	tree := map[string]string{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		tree[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("walk %s: %v", dir, err)
	}
	return tree
}

func TestExtract(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.zip")
	writeZip(t, src, map[string]string{
		"widget-main/":                "",
		"widget-main/widget.php":      "<?php // Plugin Name: Widget",
		"widget-main/inc/helpers.php": "<?php",
	})
	dest := filepath.Join(dir, "out")
	os.Mkdir(dest, 0755)

	if err := Extract(src, dest); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := map[string]string{
		"widget-main/widget.php":      "<?php // Plugin Name: Widget",
		"widget-main/inc/helpers.php": "<?php",
	}
	if diff := cmp.Diff(want, readTree(t, dest)); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestExtract_RejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "evil.zip")
	writeZip(t, src, map[string]string{"../escape.txt": "boom"})
	dest := filepath.Join(dir, "out")
	os.Mkdir(dest, 0755)

	err := Extract(src, dest)
	if err == nil {
		t.Fatal("expected error for traversal entry")
	}
	if !strings.Contains(err.Error(), "escapes destination") {
		t.Errorf("error = %q", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.txt")); err == nil {
		t.Error("traversal entry was written")
	}
}

func TestExtract_NotAZip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "bad.zip")
	os.WriteFile(src, []byte("<html>not found</html>"), 0644)
	if err := Extract(src, dir); err == nil {
		t.Fatal("expected error for non-zip input")
	}
}

func TestCreate_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	os.MkdirAll(filepath.Join(src, "assets", "css"), 0755)
	os.WriteFile(filepath.Join(src, "style.css"), []byte("/* Theme Name: Twenty */"), 0644)
	os.WriteFile(filepath.Join(src, "assets", "css", "main.css"), []byte("body{}"), 0644)

	dst := filepath.Join(dir, "backups", "snap.zip")
	size, err := Create(src, dst, map[string][]byte{"meta.json": []byte(`{"k":"v"}`)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if size <= 0 {
		t.Errorf("size = %d, want > 0", size)
	}

	meta, err := ReadFile(dst, "meta.json")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(meta) != `{"k":"v"}` {
		t.Errorf("meta = %q", meta)
	}
	if _, err := ReadFile(dst, "missing.json"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("missing entry err = %v, want fs.ErrNotExist", err)
	}

	out := filepath.Join(dir, "out")
	os.Mkdir(out, 0755)
	if err := Extract(dst, out, "meta.json"); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if diff := cmp.Diff(readTree(t, src), readTree(t, out)); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	entries, _ := os.ReadDir(filepath.Dir(dst))
	if len(entries) != 1 {
		t.Errorf("backup dir has %d entries, want only the archive", len(entries))
	}
}

func TestReplace_ExistingTarget(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "widget")
	os.MkdirAll(target, 0755)
	os.WriteFile(filepath.Join(target, "old.php"), []byte("old"), 0644)

	staged := filepath.Join(dir, ".stage")
	os.MkdirAll(staged, 0755)
	os.WriteFile(filepath.Join(staged, "new.php"), []byte("new"), 0644)

	if err := Replace(staged, target); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if diff := cmp.Diff(map[string]string{"new.php": "new"}, readTree(t, target)); diff != "" {
		t.Errorf("target mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Error("staged dir still present")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want only target", len(entries))
	}
}

func TestReplace_FailureRestoresTarget(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "widget")
	os.MkdirAll(target, 0755)
	os.WriteFile(filepath.Join(target, "old.php"), []byte("old"), 0644)

	err := Replace(filepath.Join(dir, "does-not-exist"), target)
	if err == nil {
		t.Fatal("expected error for missing staged dir")
	}
	if diff := cmp.Diff(map[string]string{"old.php": "old"}, readTree(t, target)); diff != "" {
		t.Errorf("target not restored (-want +got):\n%s", diff)
	}
}

func TestReplace_NewTarget(t *testing.T) {
	dir := t.TempDir()
	staged := filepath.Join(dir, ".stage")
	os.MkdirAll(staged, 0755)
	os.WriteFile(filepath.Join(staged, "a.txt"), []byte("a"), 0644)

	target := filepath.Join(dir, "fresh")
	if err := Replace(staged, target); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if diff := cmp.Diff(map[string]string{"a.txt": "a"}, readTree(t, target)); diff != "" {
		t.Errorf("target mismatch (-want +got):\n%s", diff)
	}
}
