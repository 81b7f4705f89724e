// Package notify delivers deployment events to external sinks. Delivery is
// best-effort: a failing sink is logged and never fails the operation that
// raised the event.
package notify

import (
	"fmt"
	"time"

	"github.com/zulandar/gitdeploy/internal/models"
)

// Type names a deployment lifecycle event.
type Type string

const (
	AfterDeploy   Type = "after_deploy"
	DeployFailed  Type = "deploy_failed"
	AfterUpdate   Type = "after_update"
	UpdateFailed  Type = "update_failed"
	AfterRollback Type = "after_rollback"
)

// Color constants for event severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorError   = "#e53935"
)

// Event is one notification.
type Event struct {
	Type       Type
	Owner      string
	Name       string
	Ref        string
	Kind       models.Kind
	Detail     string
	TargetPath string
	CommitSHA  string
	Err        error
	At         time.Time
}

// Field is a labelled value shown alongside an event.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Failed reports whether the event describes a failure.
func (e Event) Failed() bool {
	return e.Type == DeployFailed || e.Type == UpdateFailed
}

// Repo returns owner/name.
func (e Event) Repo() string {
	return e.Owner + "/" + e.Name
}

func (e Event) verb() string {
	switch e.Type {
	case AfterDeploy:
		return "deployed"
	case DeployFailed:
		return "deployment failed"
	case AfterUpdate:
		return "updated"
	case UpdateFailed:
		return "update failed"
	case AfterRollback:
		return "rolled back"
	default:
		return string(e.Type)
	}
}

// Title is a one-line summary, e.g. "acme/widget@v2.0.0 deployed".
func (e Event) Title() string {
	subject := e.Repo()
	if e.Ref != "" {
		subject += "@" + e.Ref
	}
	return fmt.Sprintf("%s %s", subject, e.verb())
}

// Body is the event detail, falling back to the error text.
func (e Event) Body() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Color returns the sidebar color for the event.
func (e Event) Color() string {
	switch {
	case e.Failed():
		return ColorError
	case e.Type == AfterRollback:
		return ColorInfo
	default:
		return ColorSuccess
	}
}

// Fields returns the structured attributes worth displaying.
func (e Event) Fields() []Field {
	var fields []Field
	if e.Kind != "" {
		fields = append(fields, Field{Name: "Kind", Value: string(e.Kind), Short: true})
	}
	if e.CommitSHA != "" {
		sha := e.CommitSHA
		if len(sha) > 12 {
			sha = sha[:12]
		}
		fields = append(fields, Field{Name: "Commit", Value: sha, Short: true})
	}
	if e.TargetPath != "" {
		fields = append(fields, Field{Name: "Target", Value: e.TargetPath})
	}
	return fields
}
