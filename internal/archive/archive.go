// Package archive creates and extracts ZIP archives and swaps directory
// trees into place.
package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/klauspost/compress/zip"
	"github.com/otiai10/copy"
)

// Extract unpacks the ZIP at src into dest, which must already exist.
// Entries that would land outside dest are rejected. Entries whose name
// is listed in skip are not written.
func Extract(src, dest string, skip ...string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("archive: open %s: %w", src, err)
	}
	defer r.Close()

	root, err := filepath.Abs(dest)
	if err != nil {
		return fmt.Errorf("archive: resolve %s: %w", dest, err)
	}
	skipped := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipped[s] = true
	}

	for _, f := range r.File {
		if skipped[f.Name] {
			continue
		}
		path, err := entryPath(root, f.Name)
		if err != nil {
			return err
		}
		if path == root {
			continue
		}
		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(path, 0755); err != nil {
				return fmt.Errorf("archive: mkdir %s: %w", f.Name, err)
			}
		case mode&fs.ModeSymlink != 0:
			if err := extractSymlink(root, path, f); err != nil {
				return err
			}
		default:
			if err := extractFile(path, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// entryPath resolves an entry name under root, rejecting traversal.
func entryPath(root, name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("archive: absolute entry %q", name)
	}
	path := filepath.Join(root, filepath.FromSlash(name))
	if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
		return "", fmt.Errorf("archive: entry %q escapes destination", name)
	}
	return path, nil
}

func extractFile(path string, f *zip.File) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("archive: mkdir for %s: %w", f.Name, err)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("archive: open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	perm := f.Mode().Perm()
	if perm == 0 {
		perm = 0644
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0600)
	if err != nil {
		return fmt.Errorf("archive: create %s: %w", f.Name, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("archive: write %s: %w", f.Name, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("archive: close %s: %w", f.Name, err)
	}
	return nil
}

func extractSymlink(root, path string, f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("archive: open entry %s: %w", f.Name, err)
	}
	target, err := io.ReadAll(io.LimitReader(rc, 4096))
	rc.Close()
	if err != nil {
		return fmt.Errorf("archive: read link %s: %w", f.Name, err)
	}
	link := string(target)
	resolved := link
	if !filepath.IsAbs(link) {
		resolved = filepath.Join(filepath.Dir(path), link)
	}
	if resolved != root && !strings.HasPrefix(filepath.Clean(resolved), root+string(filepath.Separator)) {
		return fmt.Errorf("archive: link %q points outside destination", f.Name)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("archive: mkdir for %s: %w", f.Name, err)
	}
	if err := os.Symlink(link, path); err != nil {
		return fmt.Errorf("archive: symlink %s: %w", f.Name, err)
	}
	return nil
}

// Create writes the tree rooted at srcDir into a new ZIP at dst, plus the
// extra in-memory entries. Paths inside the archive are relative to srcDir.
// The archive is written to a temporary name and renamed into place, so a
// failed Create never leaves a partial file at dst. It returns the size of
// the finished archive.
func Create(srcDir, dst string, extra map[string][]byte) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, fmt.Errorf("archive: mkdir %s: %w", filepath.Dir(dst), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*.zip")
	if err != nil {
		return 0, fmt.Errorf("archive: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	zw := zip.NewWriter(tmp)
	walkErr := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		return addEntry(zw, path, filepath.ToSlash(rel), d)
	})
	if walkErr == nil {
		for name, data := range extra {
			w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
			if err != nil {
				walkErr = err
				break
			}
			if _, err := w.Write(data); err != nil {
				walkErr = err
				break
			}
		}
	}
	if walkErr != nil {
		zw.Close()
		tmp.Close()
		return 0, fmt.Errorf("archive: add %s: %w", srcDir, walkErr)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("archive: finish %s: %w", dst, err)
	}
	info, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("archive: stat %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("archive: close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return 0, fmt.Errorf("archive: rename to %s: %w", dst, err)
	}
	return info.Size(), nil
}

func addEntry(zw *zip.Writer, path, name string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	switch {
	case d.IsDir():
		header.Name += "/"
		_, err := zw.CreateHeader(header)
		return err
	case info.Mode()&fs.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return err
		}
		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, target)
		return err
	case !info.Mode().IsRegular():
		return nil
	}
	header.Method = zip.Deflate
	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// ReadFile returns the contents of entry name in the ZIP at src. A missing
// entry reports an error satisfying errors.Is(err, fs.ErrNotExist).
func ReadFile(src, name string) ([]byte, error) {
	r, err := zip.OpenReader(src)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", src, err)
	}
	defer r.Close()
	for _, f := range r.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("archive: open entry %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("archive: read entry %s: %w", name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("archive: %s in %s: %w", name, src, fs.ErrNotExist)
}

// Replace moves the directory staged to target. An existing target is moved
// aside first and restored if the move fails, so target ends up holding
// either its previous contents or the staged tree.
func Replace(staged, target string) error {
	aside := ""
	if _, err := os.Lstat(target); err == nil {
		aside = fmt.Sprintf("%s.gd-old-%d", target, os.Getpid())
		os.RemoveAll(aside)
		if err := os.Rename(target, aside); err != nil {
			return fmt.Errorf("archive: move aside %s: %w", target, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("archive: stat %s: %w", target, err)
	}

	if err := move(staged, target); err != nil {
		if aside != "" {
			os.RemoveAll(target)
			if rerr := os.Rename(aside, target); rerr != nil {
				return fmt.Errorf("archive: move %s into place: %w (restore failed: %v)", staged, err, rerr)
			}
		}
		return fmt.Errorf("archive: move %s into place: %w", staged, err)
	}
	if aside != "" {
		if err := os.RemoveAll(aside); err != nil {
			return fmt.Errorf("archive: remove previous %s: %w", aside, err)
		}
	}
	return nil
}

// move renames src to dst, copying when they sit on different devices.
func move(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}
	opts := copy.Options{
		OnSymlink: func(string) copy.SymlinkAction { return copy.Shallow },
		Sync:      true,
	}
	if err := copy.Copy(src, dst, opts); err != nil {
		os.RemoveAll(dst)
		return err
	}
	return os.RemoveAll(src)
}
