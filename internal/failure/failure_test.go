package failure

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "direct", err: New(NotFound, "repo missing"), want: NotFound},
		{name: "wrapped", err: fmt.Errorf("outer: %w", New(Busy, "locked")), want: Busy},
		{name: "foreign", err: errors.New("boom"), want: Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("ctx: %w", New(AlreadyExists, "exists"))
	if !Is(err, AlreadyExists) {
		t.Error("Is(AlreadyExists) = false, want true")
	}
	if Is(err, NotFound) {
		t.Error("Is(NotFound) = true, want false")
	}
	if Is(nil, Internal) {
		t.Error("Is(nil) = true, want false")
	}
}

func TestError_Message(t *testing.T) {
	e := Wrap(IncompatibleArchive, errors.New("no header"), "not a deployable unit")
	e.Op = "validating"
	e.Checked = []string{"*.php containing \"Plugin Name:\"", "style.css containing \"Theme Name:\""}
	Annotate(e, "acme", "widget", "v2.0.0", "plugin")

	msg := e.Error()
	for _, want := range []string{"validating: ", "not a deployable unit", "[acme/widget@v2.0.0 plugin]", "accepted shapes", "Plugin Name:", "no header"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, want to contain %q", msg, want)
		}
	}
}

func TestAnnotate_KeepsExisting(t *testing.T) {
	e := New(NotFound, "x")
	e.Owner = "first"
	got := Annotate(e, "second", "n", "r", "k")
	if got.Owner != "first" {
		t.Errorf("Owner = %q, want %q", got.Owner, "first")
	}
	if got.Name != "n" || got.Ref != "r" || got.ArtifactKind != "k" {
		t.Errorf("unexpected annotation: %+v", got)
	}
}

func TestAs_Foreign(t *testing.T) {
	base := errors.New("disk full")
	fe := As(base)
	if fe.Kind != Internal {
		t.Errorf("Kind = %q, want %q", fe.Kind, Internal)
	}
	if !errors.Is(fe, base) {
		t.Error("As should keep the cause in the chain")
	}
	if As(nil) != nil {
		t.Error("As(nil) should be nil")
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(New(Transport, "timeout")) {
		t.Error("Transport should be retryable")
	}
	if !Retryable(New(RateLimited, "slow down")) {
		t.Error("RateLimited should be retryable")
	}
	if Retryable(New(IncompatibleArchive, "bad")) {
		t.Error("IncompatibleArchive should not be retryable")
	}
}

func TestWithOp(t *testing.T) {
	e := WithOp(New(Busy, "held"), "locking")
	if e.Op != "locking" {
		t.Errorf("Op = %q, want locking", e.Op)
	}
	e = WithOp(e, "other")
	if e.Op != "locking" {
		t.Errorf("Op overwritten: %q", e.Op)
	}
}
