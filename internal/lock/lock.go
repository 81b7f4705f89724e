// Package lock serializes work on a target directory. A lock is held
// in-process and, where supported, through an advisory file lock so that
// separate gitdeploy processes sharing a locks directory also exclude
// each other.
package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/zulandar/gitdeploy/internal/failure"
)

// Locker hands out exclusive, non-blocking locks keyed by path.
type Locker struct {
	dir string

	mu   sync.Mutex
	held map[string]string // key -> holder

	acquisitions atomic.Int64
}

// New returns a Locker that keeps its lock files in dir. An empty dir
// disables file locks; only in-process exclusion applies.
func New(dir string) (*Locker, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("lock: create %s: %w", dir, err)
		}
	}
	return &Locker{dir: dir, held: make(map[string]string)}, nil
}

// TryLock acquires the lock for path on behalf of holder. If the lock is
// already held it fails immediately with a failure.Busy error. The
// returned func releases the lock and is safe to call more than once.
func (l *Locker) TryLock(path, holder string) (func(), error) {
	key := Key(path)

	l.mu.Lock()
	if other, ok := l.held[key]; ok {
		l.mu.Unlock()
		return nil, failure.New(failure.Busy, "lock held by %q for %s", other, path)
	}
	l.held[key] = holder
	l.mu.Unlock()

	var fileRelease func()
	if l.dir != "" {
		rel, err := lockFile(filepath.Join(l.dir, key+".lock"))
		if err != nil {
			l.forget(key)
			if failure.Is(err, failure.Busy) {
				return nil, failure.New(failure.Busy, "lock held by another process for %s", path)
			}
			return nil, err
		}
		fileRelease = rel
	}

	l.acquisitions.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			if fileRelease != nil {
				fileRelease()
			}
			l.forget(key)
		})
	}, nil
}

func (l *Locker) forget(key string) {
	l.mu.Lock()
	delete(l.held, key)
	l.mu.Unlock()
}

// Acquisitions returns how many locks have been granted.
func (l *Locker) Acquisitions() int64 {
	return l.acquisitions.Load()
}

// Held reports whether path is currently locked by this process.
func (l *Locker) Held(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[Key(path)]
	return ok
}

// Key derives the lock name for path.
func Key(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:12])
}
