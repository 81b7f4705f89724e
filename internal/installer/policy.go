package installer

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zulandar/gitdeploy/internal/config"
	"github.com/zulandar/gitdeploy/internal/failure"
)

// Shape is one accepted layout of a deployable unit.
type Shape interface {
	// Match reports whether the tree rooted at root has this shape.
	Match(root string) (bool, error)
	// Describe is the human-readable form listed in rejection messages.
	Describe() string
}

// HeaderFile matches when a root-level file matching Glob contains Marker.
type HeaderFile struct {
	Glob   string
	Marker string
}

// Match implements Shape.
func (h HeaderFile) Match(root string) (bool, error) {
	matches, err := filepath.Glob(filepath.Join(root, h.Glob))
	if err != nil {
		return false, fmt.Errorf("installer: glob %q: %w", h.Glob, err)
	}
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return false, fmt.Errorf("installer: read %s: %w", path, err)
		}
		if bytes.Contains(data, []byte(h.Marker)) {
			return true, nil
		}
	}
	return false, nil
}

// Describe implements Shape.
func (h HeaderFile) Describe() string {
	return fmt.Sprintf("%s containing %q", h.Glob, h.Marker)
}

// Layout matches when directory Dir and file File both exist at the root.
type Layout struct {
	Dir  string
	File string
}

// Match implements Shape.
func (l Layout) Match(root string) (bool, error) {
	dir, err := os.Stat(filepath.Join(root, l.Dir))
	if err != nil || !dir.IsDir() {
		return false, nil
	}
	file, err := os.Stat(filepath.Join(root, l.File))
	if err != nil || file.IsDir() {
		return false, nil
	}
	return true, nil
}

// Describe implements Shape.
func (l Layout) Describe() string {
	return fmt.Sprintf("%s/ directory with %s", l.Dir, l.File)
}

// Policy accepts a tree matching any of its shapes.
type Policy []Shape

// DefaultPolicy accepts WordPress plugins, classic themes and block themes.
func DefaultPolicy() Policy {
	p, _ := PolicyFromConfig(config.DefaultShapes())
	return p
}

// PolicyFromConfig builds a Policy from configured shapes.
func PolicyFromConfig(shapes []config.ShapeConfig) (Policy, error) {
	var p Policy
	for i, s := range shapes {
		switch s.Type {
		case "header":
			p = append(p, HeaderFile{Glob: s.Glob, Marker: s.Marker})
		case "layout":
			p = append(p, Layout{Dir: s.Dir, File: s.File})
		default:
			return nil, fmt.Errorf("installer: shape %d: unknown type %q", i, s.Type)
		}
	}
	return p, nil
}

// Describe lists every shape.
func (p Policy) Describe() []string {
	out := make([]string, len(p))
	for i, s := range p {
		out[i] = s.Describe()
	}
	return out
}

// Validate returns nil when root matches some shape, otherwise an
// IncompatibleArchive failure naming every shape that was checked.
func (p Policy) Validate(root string) error {
	for _, s := range p {
		ok, err := s.Match(root)
		if err != nil {
			return failure.Wrap(failure.ExtractionFailed, err, "could not inspect extracted archive")
		}
		if ok {
			return nil
		}
	}
	return &failure.Error{
		Kind:    failure.IncompatibleArchive,
		Message: "archive is not a deployable unit; add one of the accepted shapes at the repository root",
		Checked: p.Describe(),
	}
}
