// Package failure defines the typed error taxonomy shared by every
// deployment component. Callers branch on Kind instead of matching messages.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind string

const (
	AuthRequired        Kind = "auth_required"
	AuthInsufficient    Kind = "auth_insufficient"
	NotFound            Kind = "not_found"
	RateLimited         Kind = "rate_limited"
	Transport           Kind = "transport"
	DownloadFailed      Kind = "download_failed"
	ExtractionFailed    Kind = "extraction_failed"
	IncompatibleArchive Kind = "incompatible_archive"
	AlreadyExists       Kind = "already_exists"
	RenameFailed        Kind = "rename_failed"
	Busy                Kind = "busy"
	BackupFailed        Kind = "backup_failed"
	BackupNotFound      Kind = "backup_not_found"
	MetadataMissing     Kind = "metadata_missing"
	MetadataInvalid     Kind = "metadata_invalid"
	TargetMissing       Kind = "target_missing"
	InvalidReference    Kind = "invalid_repository_reference"
	InvalidArgument     Kind = "invalid_argument"
	Internal            Kind = "internal"
)

// Error is the concrete error carried across component boundaries.
type Error struct {
	Kind    Kind
	Op      string // stage or operation that failed
	Message string
	Err     error

	// Subject of the failure, filled in by Annotate.
	Owner        string
	Name         string
	Ref          string
	ArtifactKind string

	// Checked lists the validation shapes evaluated for IncompatibleArchive.
	Checked []string
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Owner != "" || e.Name != "" {
		fmt.Fprintf(&b, " [%s/%s", e.Owner, e.Name)
		if e.Ref != "" {
			fmt.Fprintf(&b, "@%s", e.Ref)
		}
		if e.ArtifactKind != "" {
			fmt.Fprintf(&b, " %s", e.ArtifactKind)
		}
		b.WriteString("]")
	}
	if len(e.Checked) > 0 {
		fmt.Fprintf(&b, " (accepted shapes: %s)", strings.Join(e.Checked, "; "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an Error of the given kind that wraps cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the Kind of the first *Error in err's chain, or Internal
// for any other non-nil error. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// As returns err as an *Error, wrapping foreign errors as Internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return &Error{Kind: Internal, Message: "unexpected error", Err: err}
}

// Annotate stamps the repository subject onto err without overwriting
// fields that are already set. Non-*Error values are converted with As.
func Annotate(err error, owner, name, ref, artifactKind string) *Error {
	fe := As(err)
	if fe == nil {
		return nil
	}
	if fe.Owner == "" {
		fe.Owner = owner
	}
	if fe.Name == "" {
		fe.Name = name
	}
	if fe.Ref == "" {
		fe.Ref = ref
	}
	if fe.ArtifactKind == "" {
		fe.ArtifactKind = artifactKind
	}
	return fe
}

// WithOp sets the operation on err if it has none yet.
func WithOp(err error, op string) *Error {
	fe := As(err)
	if fe != nil && fe.Op == "" {
		fe.Op = op
	}
	return fe
}

// Retryable reports whether the caller may reasonably retry. The engine
// itself never retries.
func Retryable(err error) bool {
	switch KindOf(err) {
	case RateLimited, Transport:
		return true
	}
	return false
}
