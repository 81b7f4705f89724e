// Package installer downloads a repository archive, validates it and
// swaps it into its target directory.
package installer

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/zulandar/gitdeploy/internal/archive"
	"github.com/zulandar/gitdeploy/internal/failure"
)

// Stage names an installer step.
type Stage string

const (
	Downloading Stage = "downloading"
	Extracting  Stage = "extracting"
	Validating  Stage = "validating"
	Swapping    Stage = "swapping"
)

// Installer turns archives into installed directories.
type Installer struct {
	http            *http.Client
	policy          Policy
	downloadTimeout time.Duration
	log             logr.Logger
}

// Options configures an Installer.
type Options struct {
	HTTPClient      *http.Client
	Policy          Policy
	DownloadTimeout time.Duration
	Log             logr.Logger
}

// New returns an Installer. A nil Policy uses DefaultPolicy.
func New(opts Options) *Installer {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Policy == nil {
		opts.Policy = DefaultPolicy()
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 5 * time.Minute
	}
	return &Installer{
		http:            opts.HTTPClient,
		policy:          opts.Policy,
		downloadTimeout: opts.DownloadTimeout,
		log:             opts.Log.WithName("installer"),
	}
}

// Policy returns the validation policy in use.
func (i *Installer) Policy() Policy { return i.policy }

// Request describes one archive to install.
type Request struct {
	URL      string
	Owner    string
	Name     string
	Ref      string
	DestRoot string
	// OnStage, if set, is called as each stage begins.
	OnStage func(Stage)
}

func (r Request) stage(s Stage) {
	if r.OnStage != nil {
		r.OnStage(s)
	}
}

// Staged is a downloaded, extracted and validated tree waiting to be
// swapped in. Callers must Commit or Discard it.
type Staged struct {
	// Root is the validated directory that will become the target.
	Root    string
	workDir string
	req     Request
}

// Prepare downloads, extracts and validates the archive. Nothing outside
// a scratch directory under DestRoot is touched, and on failure nothing
// is left behind.
func (i *Installer) Prepare(ctx context.Context, req Request) (*Staged, error) {
	req.stage(Downloading)
	tmp, err := i.download(ctx, req.URL)
	if err != nil {
		return nil, withStage(err, Downloading)
	}
	defer os.Remove(tmp)

	req.stage(Extracting)
	if err := os.MkdirAll(req.DestRoot, 0755); err != nil {
		return nil, withStage(failure.Wrap(failure.ExtractionFailed, err, "create destination root %s", req.DestRoot), Extracting)
	}
	workDir, err := os.MkdirTemp(req.DestRoot, ".gd-extract-*")
	if err != nil {
		return nil, withStage(failure.Wrap(failure.ExtractionFailed, err, "create extraction directory"), Extracting)
	}
	keep := false
	defer func() {
		if !keep {
			os.RemoveAll(workDir)
		}
	}()

	if err := archive.Extract(tmp, workDir); err != nil {
		return nil, withStage(failure.Wrap(failure.ExtractionFailed, err, "extract archive"), Extracting)
	}
	root, err := locateRoot(workDir, req.Owner, req.Name)
	if err != nil {
		return nil, withStage(err, Extracting)
	}

	req.stage(Validating)
	if err := i.policy.Validate(root); err != nil {
		return nil, withStage(err, Validating)
	}

	keep = true
	return &Staged{Root: root, workDir: workDir, req: req}, nil
}

// Commit swaps the staged tree into target. Cancellation is honoured up
// to this point; once the swap starts it runs to completion. The scratch
// directory is removed whatever the outcome.
func (s *Staged) Commit(ctx context.Context, target string) error {
	defer s.Discard()
	if err := ctx.Err(); err != nil {
		return withStage(failure.Wrap(failure.Transport, err, "cancelled before swap"), Swapping)
	}
	s.req.stage(Swapping)
	if err := archive.Replace(s.Root, target); err != nil {
		return withStage(failure.Wrap(failure.RenameFailed, err, "move into %s", target), Swapping)
	}
	return nil
}

// Discard removes the scratch directory.
func (s *Staged) Discard() {
	if s.workDir != "" {
		os.RemoveAll(s.workDir)
	}
}

// Install runs Prepare then Commit.
func (i *Installer) Install(ctx context.Context, req Request, target string) error {
	staged, err := i.Prepare(ctx, req)
	if err != nil {
		return err
	}
	return staged.Commit(ctx, target)
}

// download fetches url into a temporary file and returns its path.
func (i *Installer) download(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, i.downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", failure.Wrap(failure.DownloadFailed, err, "build request")
	}
	resp, err := i.http.Do(req)
	if err != nil {
		return "", failure.Wrap(failure.DownloadFailed, err, "download archive")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", failure.New(failure.DownloadFailed, "download archive: unexpected status %s", resp.Status)
	}

	f, err := os.CreateTemp("", "gitdeploy-*.zip")
	if err != nil {
		return "", failure.Wrap(failure.DownloadFailed, err, "create temporary file")
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", failure.Wrap(failure.DownloadFailed, err, "write archive")
	}
	i.log.V(1).Info("downloaded archive", "bytes", n)
	return f.Name(), nil
}

// locateRoot finds the single top-level directory the archive unpacked
// into: "{name}-{ref}", "{owner}-{name}-{sha}" or "{name}".
func locateRoot(workDir, owner, name string) (string, error) {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return "", failure.Wrap(failure.ExtractionFailed, err, "read extraction directory")
	}
	lname := strings.ToLower(name)
	lowner := strings.ToLower(owner)
	var found []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n := strings.ToLower(e.Name())
		if n == lname || strings.HasPrefix(n, lname+"-") || strings.HasPrefix(n, lowner+"-"+lname+"-") {
			found = append(found, e.Name())
		}
	}
	switch len(found) {
	case 1:
		return filepath.Join(workDir, found[0]), nil
	case 0:
		return "", failure.New(failure.ExtractionFailed, "archive has no top-level directory for %s", name)
	}
	return "", failure.New(failure.ExtractionFailed, "archive has %d top-level directories for %s: %s",
		len(found), name, strings.Join(found, ", "))
}

func withStage(err error, s Stage) error {
	return failure.WithOp(err, string(s))
}
