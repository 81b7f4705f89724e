// Package backup snapshots target directories into ZIP archives and
// restores them. Each archive carries its own metadata so a restore never
// depends on the database.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/zulandar/gitdeploy/internal/archive"
	"github.com/zulandar/gitdeploy/internal/failure"
	"github.com/zulandar/gitdeploy/internal/layout"
	"github.com/zulandar/gitdeploy/internal/metrics"
	"github.com/zulandar/gitdeploy/internal/models"
)

// MetadataFile is the reserved archive entry holding Metadata.
const MetadataFile = ".gitdeploy-backup.json"

// DefaultRetention is how many backups per repository are kept.
const DefaultRetention = 5

// RollbackRef is recorded as the ref of the safety backup taken before a
// restore.
const RollbackRef = "rollback"

var (
	idPattern  = regexp.MustCompile(`^backup-(\d+)$`)
	unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// Metadata describes where a backup came from.
type Metadata struct {
	Owner     string      `json:"owner"`
	Repo      string      `json:"repo"`
	Ref       string      `json:"ref"`
	Kind      models.Kind `json:"type"`
	Directory string      `json:"directory"`
	Timestamp int64       `json:"timestamp"`
}

// Descriptor is one stored backup.
type Descriptor struct {
	ID          string
	Owner       string
	Name        string
	Ref         string
	Kind        models.Kind
	Directory   string
	CreatedAt   time.Time
	ArchivePath string
	SizeBytes   int64
}

// Store keeps backups under dir/{owner}/{name}/backup-{unixnano}.zip.
type Store struct {
	dir       string
	retention int
	layout    *layout.Layout
	log       logr.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu   sync.Mutex
	last int64
}

// Options configures a Store.
type Options struct {
	Dir       string
	Retention int
	// Layout bounds where restores may write.
	Layout  *layout.Layout
	Log     logr.Logger
	Metrics *metrics.Metrics
	// Now overrides the clock.
	Now func() time.Time
}

// New returns a Store.
func New(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("backup: directory is required")
	}
	if opts.Layout == nil {
		return nil, fmt.Errorf("backup: layout is required")
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("backup: create %s: %w", opts.Dir, err)
	}
	return &Store{
		dir:       opts.Dir,
		retention: opts.Retention,
		layout:    opts.Layout,
		log:       opts.Log.WithName("backup"),
		metrics:   opts.Metrics,
		now:       opts.Now,
	}, nil
}

// CaptureRequest identifies the directory to snapshot.
type CaptureRequest struct {
	Owner      string
	Name       string
	Ref        string
	Kind       models.Kind
	TargetPath string
	// Keep is a backup ID retention prefers to hold on to. It still counts
	// toward the retention limit.
	Keep string
}

// Capture snapshots TargetPath. If it does not exist there is nothing to
// protect and Capture returns (nil, nil).
func (s *Store) Capture(req CaptureRequest) (*Descriptor, error) {
	info, err := os.Stat(req.TargetPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail(failure.Wrap(failure.BackupFailed, err, "stat %s", req.TargetPath))
	}
	if !info.IsDir() {
		return nil, s.fail(failure.New(failure.BackupFailed, "%s is not a directory", req.TargetPath))
	}

	ts := s.nextTimestamp()
	id := "backup-" + strconv.FormatInt(ts, 10)
	meta := Metadata{
		Owner:     req.Owner,
		Repo:      req.Name,
		Ref:       req.Ref,
		Kind:      req.Kind,
		Directory: req.TargetPath,
		Timestamp: ts,
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, s.fail(failure.Wrap(failure.BackupFailed, err, "encode metadata"))
	}

	path := filepath.Join(s.repoDir(req.Owner, req.Name), id+".zip")
	size, err := archive.Create(req.TargetPath, path, map[string][]byte{MetadataFile: raw})
	if err != nil {
		return nil, s.fail(failure.Wrap(failure.BackupFailed, err, "archive %s", req.TargetPath))
	}
	s.metrics.ObserveBackup(nil)
	s.log.Info("captured backup", "repo", req.Owner+"/"+req.Name, "id", id, "bytes", size)

	if err := s.prune(req.Owner, req.Name, req.Keep); err != nil {
		s.log.Error(err, "retention sweep failed", "repo", req.Owner+"/"+req.Name)
	}
	return &Descriptor{
		ID:          id,
		Owner:       req.Owner,
		Name:        req.Name,
		Ref:         req.Ref,
		Kind:        req.Kind,
		Directory:   req.TargetPath,
		CreatedAt:   time.Unix(0, ts),
		ArchivePath: path,
		SizeBytes:   size,
	}, nil
}

// List returns the backups for (owner, name), newest first.
func (s *Store) List(owner, name string) ([]Descriptor, error) {
	entries, err := os.ReadDir(s.repoDir(owner, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("backup: list %s/%s: %w", owner, name, err)
	}
	var out []Descriptor
	for _, e := range entries {
		id := strings.TrimSuffix(e.Name(), ".zip")
		m := idPattern.FindStringSubmatch(id)
		if e.IsDir() || m == nil || !strings.HasSuffix(e.Name(), ".zip") {
			continue
		}
		ts, _ := strconv.ParseInt(m[1], 10, 64)
		d := Descriptor{
			ID:          id,
			Owner:       owner,
			Name:        name,
			CreatedAt:   time.Unix(0, ts),
			ArchivePath: filepath.Join(s.repoDir(owner, name), e.Name()),
		}
		if info, err := e.Info(); err == nil {
			d.SizeBytes = info.Size()
		}
		if meta, err := readMetadata(d.ArchivePath); err == nil {
			if meta.Owner != "" && (meta.Owner != owner || meta.Repo != name) {
				continue
			}
			d.Ref, d.Kind, d.Directory = meta.Ref, meta.Kind, meta.Directory
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Delete removes one backup.
func (s *Store) Delete(owner, name, id string) error {
	if !idPattern.MatchString(id) {
		return failure.New(failure.BackupNotFound, "backup %q not found", id)
	}
	err := os.Remove(filepath.Join(s.repoDir(owner, name), id+".zip"))
	if errors.Is(err, fs.ErrNotExist) {
		return failure.New(failure.BackupNotFound, "backup %q not found", id)
	}
	if err != nil {
		return fmt.Errorf("backup: delete %s: %w", id, err)
	}
	return nil
}

// Restore replaces the original directory recorded in backup id with the
// backup's contents. The current contents are captured first so the
// restore can itself be undone. It returns the restored metadata; callers
// own any bookkeeping such as updating the tracked ref.
func (s *Store) Restore(owner, name, id string) (*Metadata, error) {
	if !idPattern.MatchString(id) {
		return nil, s.failRestore(failure.New(failure.BackupNotFound, "backup %q not found", id))
	}
	path := filepath.Join(s.repoDir(owner, name), id+".zip")
	if _, err := os.Stat(path); err != nil {
		return nil, s.failRestore(failure.Wrap(failure.BackupNotFound, err, "backup %q not found", id))
	}

	meta, err := readMetadata(path)
	if err != nil {
		return nil, s.failRestore(err)
	}
	if meta.Owner != "" && (meta.Owner != owner || meta.Repo != name) {
		return nil, s.failRestore(failure.New(failure.MetadataInvalid, "backup %s belongs to %s/%s", id, meta.Owner, meta.Repo))
	}
	kind, ok := s.layout.Within(meta.Directory)
	if !ok {
		return nil, s.failRestore(failure.New(failure.MetadataInvalid, "backup directory %q is outside every destination root", meta.Directory))
	}
	if kind != meta.Kind {
		return nil, s.failRestore(failure.New(failure.MetadataInvalid, "backup kind %q does not match destination %q", meta.Kind, kind))
	}
	if info, err := os.Stat(meta.Directory); err != nil || !info.IsDir() {
		return nil, s.failRestore(failure.New(failure.TargetMissing, "original directory %s no longer exists", meta.Directory))
	}

	staging, err := os.MkdirTemp(filepath.Dir(meta.Directory), ".gd-restore-*")
	if err != nil {
		return nil, s.failRestore(failure.Wrap(failure.BackupFailed, err, "create restore staging"))
	}
	defer os.RemoveAll(staging)
	if err := archive.Extract(path, staging, MetadataFile); err != nil {
		return nil, s.failRestore(failure.Wrap(failure.BackupFailed, err, "extract backup %s", id))
	}

	if _, err := s.Capture(CaptureRequest{
		Owner:      owner,
		Name:       name,
		Ref:        RollbackRef,
		Kind:       meta.Kind,
		TargetPath: meta.Directory,
		Keep:       id,
	}); err != nil {
		s.metrics.ObserveRestore(err)
		return nil, err
	}

	if err := archive.Replace(staging, meta.Directory); err != nil {
		return nil, s.failRestore(failure.Wrap(failure.RenameFailed, err, "restore into %s", meta.Directory))
	}
	s.metrics.ObserveRestore(nil)
	s.log.Info("restored backup", "repo", owner+"/"+name, "id", id, "ref", meta.Ref)
	return meta, nil
}

func readMetadata(path string) (*Metadata, error) {
	raw, err := archive.ReadFile(path, MetadataFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, failure.Wrap(failure.MetadataMissing, err, "backup has no metadata")
	}
	if err != nil {
		return nil, failure.Wrap(failure.BackupFailed, err, "open backup")
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, failure.Wrap(failure.MetadataInvalid, err, "decode backup metadata")
	}
	if meta.Kind == "" || meta.Directory == "" {
		return nil, failure.New(failure.MetadataInvalid, "backup metadata lacks type or directory")
	}
	if !filepath.IsAbs(meta.Directory) {
		return nil, failure.New(failure.MetadataInvalid, "backup directory %q is not absolute", meta.Directory)
	}
	return &meta, nil
}

// prune deletes all but the newest retention backups. When retention
// allows more than one, keep takes one of the slots ahead of older
// backups; the newest backup is never displaced by it.
func (s *Store) prune(owner, name, keep string) error {
	list, err := s.List(owner, name)
	if err != nil {
		return err
	}
	reserved := 0
	if keep != "" && s.retention > 1 && slices.ContainsFunc(list, func(d Descriptor) bool { return d.ID == keep }) {
		reserved = 1
	}
	kept := 0
	for _, d := range list {
		if reserved == 1 && d.ID == keep {
			continue
		}
		if kept < s.retention-reserved {
			kept++
			continue
		}
		if err := os.Remove(d.ArchivePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("backup: prune %s: %w", d.ID, err)
		}
		s.log.V(1).Info("pruned backup", "repo", owner+"/"+name, "id", d.ID)
	}
	return nil
}

// nextTimestamp returns a strictly increasing capture time in nanoseconds.
func (s *Store) nextTimestamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.now().UnixNano()
	if ts <= s.last {
		ts = s.last + 1
	}
	s.last = ts
	return ts
}

func (s *Store) repoDir(owner, name string) string {
	return filepath.Join(s.dir, Sanitize(owner), Sanitize(name))
}

func (s *Store) fail(err error) error {
	s.metrics.ObserveBackup(err)
	return err
}

func (s *Store) failRestore(err error) error {
	s.metrics.ObserveRestore(err)
	return err
}

// Sanitize makes s safe to use as a single path segment.
func Sanitize(s string) string {
	out := strings.Trim(unsafeName.ReplaceAllString(s, "-"), ".-")
	if out == "" {
		return "unnamed"
	}
	return out
}
