// Package webhook turns signed GitHub events into deployments.
package webhook

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-logr/logr"
	"github.com/google/go-github/v68/github"
	"github.com/zulandar/gitdeploy/internal/deploy"
	"github.com/zulandar/gitdeploy/internal/failure"
	"github.com/zulandar/gitdeploy/internal/metrics"
	"github.com/zulandar/gitdeploy/internal/models"
	"github.com/zulandar/gitdeploy/internal/tracked"
)

// Headers GitHub delivers events with.
const (
	EventHeader     = "X-GitHub-Event"
	SignatureHeader = "X-Hub-Signature-256"
)

// Trigger is the lock holder name used for webhook deployments.
const Trigger = "webhook"

// Outcome classifies how an event was handled.
type Outcome string

const (
	Accepted            Outcome = "accepted"
	Rejected            Outcome = "rejected"
	DeploymentTriggered Outcome = "deployment_triggered"
)

// Result describes the handling of one event.
type Result struct {
	Outcome Outcome
	// Status is the HTTP status to answer with.
	Status int
	Event  string
	Repo   string
	Reason string
	// Deployment is set when a triggered deployment succeeded.
	Deployment *deploy.Outcome
	Err        error
}

// Deployer redeploys a tracked repository.
type Deployer interface {
	DeployByID(ctx context.Context, id uint, trigger string) (*deploy.Outcome, error)
}

// Handler verifies and dispatches events.
type Handler struct {
	secret   []byte
	repos    *tracked.Store
	deployer Deployer
	metrics  *metrics.Metrics
	log      logr.Logger
}

// Options configures a Handler. An empty Secret accepts unsigned events.
type Options struct {
	Secret   string
	Repos    *tracked.Store
	Deployer Deployer
	Metrics  *metrics.Metrics
	Log      logr.Logger
}

// New returns a Handler.
func New(opts Options) *Handler {
	var secret []byte
	if opts.Secret != "" {
		secret = []byte(opts.Secret)
	}
	return &Handler{
		secret:   secret,
		repos:    opts.Repos,
		deployer: opts.Deployer,
		metrics:  opts.Metrics,
		log:      opts.Log.WithName("webhook"),
	}
}

// Handle processes one delivery. The signature is checked against the raw
// payload before anything in it is trusted. A push to the tracked branch
// or a published release of an auto-update repository redeploys it
// synchronously.
func (h *Handler) Handle(ctx context.Context, payload []byte, signature, eventType string) Result {
	res := h.handle(ctx, payload, signature, eventType)
	res.Event = eventType
	h.metrics.ObserveWebhook(eventType, string(res.Outcome))
	log := h.log.WithValues("event", eventType, "repo", res.Repo, "outcome", res.Outcome)
	switch {
	case res.Err != nil:
		log.Error(res.Err, "webhook handling failed", "reason", res.Reason)
	default:
		log.V(1).Info("webhook handled", "reason", res.Reason)
	}
	return res
}

func (h *Handler) handle(ctx context.Context, payload []byte, signature, eventType string) Result {
	if h.secret != nil {
		if !strings.HasPrefix(signature, "sha256=") {
			return reject(http.StatusUnauthorized, "missing or unsupported signature")
		}
		if err := github.ValidateSignature(signature, payload, h.secret); err != nil {
			return reject(http.StatusUnauthorized, "signature mismatch")
		}
	}

	if eventType == "" {
		return reject(http.StatusBadRequest, "missing event type")
	}
	event, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		return reject(http.StatusBadRequest, "unparseable payload: "+err.Error())
	}

	var (
		fullName string
		branch   string
		release  bool
	)
	switch e := event.(type) {
	case *github.PingEvent:
		return accept("", "pong")
	case *github.PushEvent:
		fullName = e.GetRepo().GetFullName()
		if !strings.HasPrefix(e.GetRef(), "refs/heads/") {
			return accept(fullName, "not a branch push")
		}
		branch = strings.TrimPrefix(e.GetRef(), "refs/heads/")
	case *github.ReleaseEvent:
		fullName = e.GetRepo().GetFullName()
		if e.GetAction() != "published" {
			return accept(fullName, "release action "+e.GetAction()+" ignored")
		}
		release = true
	default:
		return reject(http.StatusBadRequest, "unsupported event "+eventType)
	}

	owner, name, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || name == "" {
		return reject(http.StatusBadRequest, "payload lacks repository.full_name")
	}
	rec, err := h.repos.GetByName(owner, name)
	if failure.Is(err, failure.NotFound) {
		return accept(fullName, "repository not tracked")
	}
	if err != nil {
		res := accept(fullName, "lookup failed")
		res.Status, res.Err = http.StatusInternalServerError, err
		return res
	}
	if !rec.AutoUpdate {
		return accept(fullName, "auto-update disabled")
	}
	if !release && branch != rec.Ref {
		return accept(fullName, "push to "+branch+" does not match tracked ref "+rec.Ref)
	}
	return h.trigger(ctx, rec)
}

func (h *Handler) trigger(ctx context.Context, rec *models.TrackedRepository) Result {
	res := Result{Outcome: DeploymentTriggered, Repo: rec.FullName(), Status: http.StatusOK}
	out, err := h.deployer.DeployByID(ctx, rec.ID, Trigger)
	if err != nil {
		res.Status, res.Err, res.Reason = http.StatusInternalServerError, err, "deployment failed"
		return res
	}
	res.Deployment = out
	res.Reason = "deployed " + out.Ref
	return res
}

func accept(repo, reason string) Result {
	return Result{Outcome: Accepted, Status: http.StatusOK, Repo: repo, Reason: reason}
}

func reject(status int, reason string) Result {
	return Result{Outcome: Rejected, Status: status, Reason: reason}
}
