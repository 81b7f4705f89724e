// Package deploy runs deployments, updates and rollbacks of tracked
// repositories. It owns the per-target lock and the order in which the
// source, installer and backup store are called.
package deploy

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/zulandar/gitdeploy/internal/backup"
	"github.com/zulandar/gitdeploy/internal/failure"
	"github.com/zulandar/gitdeploy/internal/installer"
	"github.com/zulandar/gitdeploy/internal/layout"
	"github.com/zulandar/gitdeploy/internal/lock"
	"github.com/zulandar/gitdeploy/internal/metrics"
	"github.com/zulandar/gitdeploy/internal/models"
	"github.com/zulandar/gitdeploy/internal/notify"
	"github.com/zulandar/gitdeploy/internal/source"
	"github.com/zulandar/gitdeploy/internal/tracked"
)

// State is a step of one deployment.
type State string

const (
	Resolving   State = "resolving"
	Downloading State = "downloading"
	Extracting  State = "extracting"
	Validating  State = "validating"
	BackingUp   State = "backing_up"
	Swapping    State = "swapping"
	Finalizing  State = "finalizing"
	Done        State = "done"
	Failed      State = "failed"
)

// Source is the part of the source client the orchestrator needs.
type Source interface {
	GetRepository(ctx context.Context, owner, name string) (*source.Response[source.RepoMetadata], error)
	GetLatestCommit(ctx context.Context, owner, name, ref string) (*source.Response[source.CommitInfo], error)
	ResolveDownloadURL(ctx context.Context, owner, name, ref string) (*source.Response[string], error)
}

// Orchestrator ties the deployment components together.
type Orchestrator struct {
	source    Source
	installer *installer.Installer
	backups   *backup.Store
	layout    *layout.Layout
	locks     *lock.Locker
	repos     *tracked.Store
	notifier  *notify.Dispatcher
	metrics   *metrics.Metrics
	log       logr.Logger
	now       func() time.Time
}

// Options holds the orchestrator's collaborators. Notifier and Metrics may
// be nil.
type Options struct {
	Source    Source
	Installer *installer.Installer
	Backups   *backup.Store
	Layout    *layout.Layout
	Locks     *lock.Locker
	Repos     *tracked.Store
	Notifier  *notify.Dispatcher
	Metrics   *metrics.Metrics
	Log       logr.Logger
}

// New returns an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Source == nil:
		return nil, errors.New("deploy: source is required")
	case opts.Installer == nil:
		return nil, errors.New("deploy: installer is required")
	case opts.Backups == nil:
		return nil, errors.New("deploy: backup store is required")
	case opts.Layout == nil:
		return nil, errors.New("deploy: layout is required")
	case opts.Locks == nil:
		return nil, errors.New("deploy: locker is required")
	case opts.Repos == nil:
		return nil, errors.New("deploy: repository store is required")
	}
	return &Orchestrator{
		source:    opts.Source,
		installer: opts.Installer,
		backups:   opts.Backups,
		layout:    opts.Layout,
		locks:     opts.Locks,
		repos:     opts.Repos,
		notifier:  opts.Notifier,
		metrics:   opts.Metrics,
		log:       opts.Log.WithName("deploy"),
		now:       time.Now,
	}, nil
}

// Request describes one deployment. Empty Ref, Kind and TargetDir are
// taken from the tracked record when one exists; otherwise Ref falls back
// to the repository's default branch, Kind to plugin and TargetDir to Name.
type Request struct {
	Owner     string
	Name      string
	Ref       string
	Kind      models.Kind
	TargetDir string
	// UpdateExisting allows replacing an existing target directory.
	UpdateExisting bool
	// EnableAutoUpdate turns on auto-update for the record on success.
	EnableAutoUpdate bool
	// Trigger names the caller for lock diagnostics, e.g. "cli".
	Trigger string
	// OnState, if set, is called as each state is entered.
	OnState func(State)
}

// Outcome is a successful deployment.
type Outcome struct {
	Owner string
	Name  string
	// Repository is the tracked record, nil if it could not be stored.
	Repository *models.TrackedRepository
	Ref        string
	Kind       models.Kind
	TargetPath string
	// CommitSHA is the resolved commit, empty if it could not be fetched.
	CommitSHA string
	// Updated is true when an existing target was replaced.
	Updated bool
	// Backup is the snapshot taken before an update.
	Backup *backup.Descriptor
}

// run tracks one invocation's progress.
type run struct {
	req      Request
	state    State
	updating bool
	// commitSHA is the commit the archive was downloaded at.
	commitSHA string
	log       logr.Logger
}

func (r *run) enter(s State) {
	r.state = s
	r.log.V(1).Info("state", "state", s)
	if r.req.OnState != nil {
		r.req.OnState(s)
	}
}

// Deploy installs owner/name at ref:
//  1. Resolve the repository, failing before any filesystem access.
//  2. Lock the target directory; a held lock fails fast with Busy.
//  3. Refuse to replace an existing target unless UpdateExisting is set.
//  4. Download, extract and validate into a scratch directory.
//  5. Back up the existing target, then swap the new tree in.
//  6. Record the commit and deployment time, and notify.
func (o *Orchestrator) Deploy(ctx context.Context, req Request) (*Outcome, error) {
	r := &run{req: req, log: o.log.WithValues("repo", req.Owner+"/"+req.Name, "trigger", req.Trigger)}
	out, err := o.deploy(ctx, r)
	o.metrics.ObserveDeployment(string(r.req.Kind), err)
	if err != nil {
		fe := failure.Annotate(failure.WithOp(err, string(r.state)), r.req.Owner, r.req.Name, r.req.Ref, string(r.req.Kind))
		r.enter(Failed)
		r.log.Error(fe, "deployment failed", "kind", fe.Kind)
		evt := notify.DeployFailed
		if r.updating {
			evt = notify.UpdateFailed
		}
		o.notifier.Dispatch(context.WithoutCancel(ctx), notify.Event{
			Type:  evt,
			Owner: r.req.Owner,
			Name:  r.req.Name,
			Ref:   r.req.Ref,
			Kind:  r.req.Kind,
			Err:   fe,
		})
		return nil, fe
	}

	r.enter(Done)
	evt := notify.AfterDeploy
	if out.Updated {
		evt = notify.AfterUpdate
	}
	o.notifier.Dispatch(context.WithoutCancel(ctx), notify.Event{
		Type:       evt,
		Owner:      r.req.Owner,
		Name:       r.req.Name,
		Ref:        out.Ref,
		Kind:       out.Kind,
		TargetPath: out.TargetPath,
		CommitSHA:  out.CommitSHA,
	})
	return out, nil
}

func (o *Orchestrator) deploy(ctx context.Context, r *run) (*Outcome, error) {
	req := &r.req
	r.enter(Resolving)
	if req.Owner == "" || req.Name == "" {
		return nil, failure.New(failure.InvalidArgument, "owner and name are required")
	}
	meta, err := o.source.GetRepository(ctx, req.Owner, req.Name)
	if err != nil {
		return nil, err
	}
	existing, err := o.repos.GetByName(req.Owner, req.Name)
	if err != nil && !failure.Is(err, failure.NotFound) {
		return nil, err
	}
	o.fillDefaults(req, existing, meta.Data)

	root, err := o.layout.Root(req.Kind)
	if err != nil {
		return nil, err
	}
	target, err := o.layout.Target(req.Kind, req.TargetDir)
	if err != nil {
		return nil, err
	}

	release, err := o.locks.TryLock(target, req.Trigger+" "+req.Owner+"/"+req.Name)
	if err != nil {
		return nil, err
	}
	defer release()

	exists, err := dirExists(target)
	if err != nil {
		return nil, failure.Wrap(failure.Internal, err, "stat %s", target)
	}
	if exists && !req.UpdateExisting {
		return nil, failure.New(failure.AlreadyExists, "%s already exists; deploy with update to replace it", target)
	}
	r.updating = exists

	// Download the resolved commit so the recorded SHA matches the files
	// on disk even if the ref moves mid-deployment.
	archiveRef := req.Ref
	if commit, err := o.source.GetLatestCommit(ctx, req.Owner, req.Name, req.Ref); err != nil {
		r.log.Error(err, "could not resolve commit, downloading by ref", "ref", req.Ref)
	} else if commit.Data.SHA != "" {
		r.commitSHA = commit.Data.SHA
		archiveRef = commit.Data.SHA
	}

	link, err := o.source.ResolveDownloadURL(ctx, req.Owner, req.Name, archiveRef)
	if err != nil {
		return nil, err
	}

	staged, err := o.installer.Prepare(ctx, installer.Request{
		URL:      link.Data,
		Owner:    req.Owner,
		Name:     req.Name,
		Ref:      req.Ref,
		DestRoot: root,
		OnStage:  func(s installer.Stage) { r.enter(State(s)) },
	})
	if err != nil {
		return nil, err
	}

	out := &Outcome{Owner: req.Owner, Name: req.Name, Ref: req.Ref, Kind: req.Kind, TargetPath: target, CommitSHA: r.commitSHA, Updated: exists}
	if exists {
		r.enter(BackingUp)
		prevRef := req.Ref
		if existing != nil {
			prevRef = existing.Ref
		}
		d, err := o.backups.Capture(backup.CaptureRequest{
			Owner:      req.Owner,
			Name:       req.Name,
			Ref:        prevRef,
			Kind:       req.Kind,
			TargetPath: target,
		})
		if err != nil {
			staged.Discard()
			return nil, err
		}
		out.Backup = d
	}

	if err := staged.Commit(ctx, target); err != nil {
		return nil, err
	}

	r.enter(Finalizing)
	o.finalize(r, out)
	return out, nil
}

// finalize records the deployment. The target directory is already in
// place, so failures here are logged and never fail the deployment.
func (o *Orchestrator) finalize(r *run, out *Outcome) {
	req := r.req
	rec, err := o.repos.Register(tracked.RegisterOpts{
		Owner:            req.Owner,
		Name:             req.Name,
		Ref:              req.Ref,
		Kind:             req.Kind,
		TargetDir:        req.TargetDir,
		EnableAutoUpdate: req.EnableAutoUpdate,
	})
	if err != nil {
		r.log.Error(err, "could not register repository")
		return
	}
	if err := o.repos.MarkDeployed(rec.ID, out.CommitSHA, o.now()); err != nil {
		r.log.Error(err, "could not record deployment")
	}
	if fresh, err := o.repos.Get(rec.ID); err == nil {
		rec = fresh
	}
	out.Repository = rec
	r.log.Info("deployed", "ref", req.Ref, "commit", out.CommitSHA, "target", out.TargetPath, "updated", out.Updated)
}

func (o *Orchestrator) fillDefaults(req *Request, existing *models.TrackedRepository, meta source.RepoMetadata) {
	if existing != nil {
		if req.Ref == "" {
			req.Ref = existing.Ref
		}
		if req.Kind == "" {
			req.Kind = existing.Kind
		}
		if req.TargetDir == "" {
			req.TargetDir = existing.TargetDir
		}
	}
	if req.Ref == "" {
		req.Ref = meta.DefaultBranch
	}
	if req.Ref == "" {
		req.Ref = "main"
	}
	if req.Kind == "" {
		req.Kind = models.KindPlugin
	}
	if req.TargetDir == "" {
		req.TargetDir = req.Name
	}
	if req.Trigger == "" {
		req.Trigger = "manual"
	}
}

// DeployByID redeploys a tracked repository at its recorded ref, kind and
// target directory, always replacing the existing target.
func (o *Orchestrator) DeployByID(ctx context.Context, id uint, trigger string) (*Outcome, error) {
	rec, err := o.repos.Get(id)
	if err != nil {
		return nil, err
	}
	return o.Deploy(ctx, Request{
		Owner:          rec.Owner,
		Name:           rec.Name,
		Ref:            rec.Ref,
		Kind:           rec.Kind,
		TargetDir:      rec.TargetDir,
		UpdateExisting: true,
		Trigger:        trigger,
	})
}

// Backups lists the backups of owner/name, newest first.
func (o *Orchestrator) Backups(owner, name string) ([]backup.Descriptor, error) {
	return o.backups.List(owner, name)
}

// Rollback restores backup id of owner/name under the target's lock and
// points the tracked record at the restored ref.
func (o *Orchestrator) Rollback(ctx context.Context, owner, name, id string) (*backup.Metadata, error) {
	log := o.log.WithValues("repo", owner+"/"+name, "backup", id)
	meta, err := o.rollback(owner, name, id)
	if err != nil {
		fe := failure.Annotate(failure.WithOp(err, "rollback"), owner, name, "", "")
		log.Error(fe, "rollback failed", "kind", fe.Kind)
		return nil, fe
	}

	if meta.Ref != "" && meta.Ref != backup.RollbackRef {
		if rec, err := o.repos.GetByName(owner, name); err == nil {
			if err := o.repos.Update(rec.ID, map[string]interface{}{"ref": meta.Ref}); err != nil {
				log.Error(err, "could not update tracked ref", "ref", meta.Ref)
			}
		}
	}
	log.Info("rolled back", "ref", meta.Ref, "target", meta.Directory)
	o.notifier.Dispatch(context.WithoutCancel(ctx), notify.Event{
		Type:       notify.AfterRollback,
		Owner:      owner,
		Name:       name,
		Ref:        meta.Ref,
		Kind:       meta.Kind,
		TargetPath: meta.Directory,
		Detail:     "restored backup " + id,
	})
	return meta, nil
}

func (o *Orchestrator) rollback(owner, name, id string) (*backup.Metadata, error) {
	list, err := o.backups.List(owner, name)
	if err != nil {
		return nil, err
	}
	var target string
	for _, d := range list {
		if d.ID == id {
			target = d.Directory
			break
		}
	}
	if target != "" {
		release, err := o.locks.TryLock(target, "rollback "+owner+"/"+name)
		if err != nil {
			return nil, err
		}
		defer release()
	}
	return o.backups.Restore(owner, name, id)
}

func dirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}
