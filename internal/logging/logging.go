// Package logging builds the structured logger shared by every component.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
)

// New returns a JSON logr.Logger writing one object per line to w.
// A nil w writes to stderr.
func New(w io.Writer, verbosity int) logr.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := funcr.Options{
		LogCaller:    funcr.Error,
		LogTimestamp: true,
		Verbosity:    verbosity,
	}
	return funcr.NewJSON(func(obj string) { fmt.Fprintln(w, obj) }, opts)
}
