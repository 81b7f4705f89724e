// Package layout maps artifact kinds to their destination roots.
package layout

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zulandar/gitdeploy/internal/failure"
	"github.com/zulandar/gitdeploy/internal/models"
)

// Layout is an immutable kind to absolute root mapping.
type Layout struct {
	roots map[models.Kind]string
}

// New builds a Layout from configured destinations, resolving each root to
// an absolute path.
func New(destinations map[string]string) (*Layout, error) {
	roots := make(map[models.Kind]string, len(destinations))
	for kind, root := range destinations {
		if root == "" {
			return nil, fmt.Errorf("layout: empty root for kind %q", kind)
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("layout: resolve %s: %w", root, err)
		}
		roots[models.Kind(kind)] = abs
	}
	return &Layout{roots: roots}, nil
}

// Root returns the destination root for kind.
func (l *Layout) Root(kind models.Kind) (string, error) {
	root, ok := l.roots[kind]
	if !ok {
		return "", failure.New(failure.InvalidArgument, "no destination configured for kind %q", kind)
	}
	return root, nil
}

// Target returns root/dir for kind. dir must be a single path segment.
func (l *Layout) Target(kind models.Kind, dir string) (string, error) {
	root, err := l.Root(kind)
	if err != nil {
		return "", err
	}
	if err := ValidateTargetDir(dir); err != nil {
		return "", err
	}
	return filepath.Join(root, dir), nil
}

// ValidateTargetDir rejects empty, relative-dot and multi-segment names.
func ValidateTargetDir(dir string) error {
	if dir == "" || dir == "." || dir == ".." || strings.ContainsAny(dir, `/\`) {
		return failure.New(failure.InvalidArgument, "invalid target directory %q", dir)
	}
	return nil
}

// Kinds returns the configured kinds in sorted order.
func (l *Layout) Kinds() []models.Kind {
	kinds := make([]models.Kind, 0, len(l.roots))
	for k := range l.roots {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Within reports whether path is a direct child of some configured root,
// returning that child's kind.
func (l *Layout) Within(path string) (models.Kind, bool) {
	clean := filepath.Clean(path)
	parent := filepath.Dir(clean)
	for _, kind := range l.Kinds() {
		if l.roots[kind] == parent && clean != parent {
			return kind, true
		}
	}
	return "", false
}
