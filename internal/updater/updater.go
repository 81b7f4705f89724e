// Package updater finds tracked repositories whose upstream ref has moved
// and redeploys them.
package updater

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/zulandar/gitdeploy/internal/deploy"
	"github.com/zulandar/gitdeploy/internal/metrics"
	"github.com/zulandar/gitdeploy/internal/models"
	"github.com/zulandar/gitdeploy/internal/source"
	"github.com/zulandar/gitdeploy/internal/tracked"
)

// Trigger is the lock holder name used for sweep deployments.
const Trigger = "scheduler"

// Source is the part of the source client the checker needs.
type Source interface {
	GetRepository(ctx context.Context, owner, name string) (*source.Response[source.RepoMetadata], error)
	GetLatestCommit(ctx context.Context, owner, name, ref string) (*source.Response[source.CommitInfo], error)
}

// Deployer redeploys a tracked repository.
type Deployer interface {
	DeployByID(ctx context.Context, id uint, trigger string) (*deploy.Outcome, error)
}

// Action is what a sweep did with one repository.
type Action string

const (
	ActionDeployed Action = "deployed"
	ActionUpToDate Action = "up_to_date"
	ActionSkipped  Action = "skipped"
	ActionFailed   Action = "failed"
)

// Result is the outcome for one repository.
type Result struct {
	RepoID      uint
	Repo        string
	Ref         string
	Action      Action
	PreviousSHA string
	LatestSHA   string
	Err         error
}

// SweepReport summarizes one CheckForUpdates run.
type SweepReport struct {
	StartedAt time.Time
	Duration  time.Duration
	Checked   int
	Deployed  int
	Skipped   int
	Failed    int
	Results   []Result
}

func (r *SweepReport) add(res Result) {
	r.Checked++
	switch res.Action {
	case ActionDeployed:
		r.Deployed++
	case ActionSkipped:
		r.Skipped++
	case ActionFailed:
		r.Failed++
	}
	r.Results = append(r.Results, res)
}

// Checker compares deployed commits with upstream.
type Checker struct {
	repos    *tracked.Store
	source   Source
	deployer Deployer
	metrics  *metrics.Metrics
	log      logr.Logger
	now      func() time.Time
}

// Options configures a Checker.
type Options struct {
	Repos    *tracked.Store
	Source   Source
	Deployer Deployer
	Metrics  *metrics.Metrics
	Log      logr.Logger
}

// New returns a Checker.
func New(opts Options) *Checker {
	return &Checker{
		repos:    opts.Repos,
		source:   opts.Source,
		deployer: opts.Deployer,
		metrics:  opts.Metrics,
		log:      opts.Log.WithName("updater"),
		now:      time.Now,
	}
}

// CheckForUpdates checks every auto-update repository once. A failure on
// one repository is recorded in the report and never stops the sweep; the
// returned error is only for failing to load the repositories.
func (c *Checker) CheckForUpdates(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{StartedAt: c.now()}
	repos, err := c.repos.ListAutoUpdate()
	if err != nil {
		return nil, fmt.Errorf("updater: %w", err)
	}
	for i := range repos {
		if ctx.Err() != nil {
			break
		}
		report.add(c.Check(ctx, &repos[i]))
	}
	report.Duration = c.now().Sub(report.StartedAt)
	c.metrics.ObserveSweep(report.Duration)
	c.log.Info("update sweep finished",
		"checked", report.Checked, "deployed", report.Deployed,
		"skipped", report.Skipped, "failed", report.Failed, "duration", report.Duration)
	return report, nil
}

// Check compares one repository's deployed commit with its ref's head and
// redeploys when they differ.
func (c *Checker) Check(ctx context.Context, rec *models.TrackedRepository) Result {
	res := Result{RepoID: rec.ID, Repo: rec.FullName(), Ref: rec.Ref}
	if rec.LastDeployedCommitSHA != nil {
		res.PreviousSHA = *rec.LastDeployedCommitSHA
	}
	log := c.log.WithValues("repo", res.Repo, "ref", rec.Ref)

	if _, err := c.source.GetRepository(ctx, rec.Owner, rec.Name); err != nil {
		log.Error(err, "repository unreachable, skipping")
		res.Action, res.Err = ActionSkipped, err
		return res
	}
	commit, err := c.source.GetLatestCommit(ctx, rec.Owner, rec.Name, rec.Ref)
	if err != nil {
		log.Error(err, "could not resolve latest commit")
		res.Action, res.Err = ActionFailed, err
		return res
	}
	res.LatestSHA = commit.Data.SHA
	if err := c.repos.MarkChecked(rec.ID, c.now()); err != nil {
		log.Error(err, "could not record check time")
	}

	if res.LatestSHA == res.PreviousSHA {
		log.V(1).Info("up to date", "commit", res.LatestSHA)
		res.Action = ActionUpToDate
		return res
	}

	log.Info("upstream moved, redeploying", "from", res.PreviousSHA, "to", res.LatestSHA)
	out, err := c.deployer.DeployByID(ctx, rec.ID, Trigger)
	if err != nil {
		res.Action, res.Err = ActionFailed, err
		return res
	}
	if out.CommitSHA == "" {
		if err := c.repos.Update(rec.ID, map[string]interface{}{"last_deployed_commit_sha": res.LatestSHA}); err != nil {
			log.Error(err, "could not record deployed commit")
		}
	} else {
		res.LatestSHA = out.CommitSHA
	}
	res.Action = ActionDeployed
	return res
}
