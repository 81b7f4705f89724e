package notify

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Command runs a shell command for each event. Placeholders in Template
// ({{.Event}}, {{.Owner}}, {{.Name}}, {{.Ref}}, {{.Kind}}, {{.Detail}})
// expand to single-quoted shell words.
type Command struct {
	Template string
}

// Notify runs the command through sh -c.
func (c Command) Notify(ctx context.Context, evt Event) error {
	if c.Template == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", templateCommand(c.Template, evt))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("notify: command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// templateCommand replaces placeholders in the command template with event values.
func templateCommand(command string, evt Event) string {
	r := strings.NewReplacer(
		"{{.Event}}", shellQuote(string(evt.Type)),
		"{{.Owner}}", shellQuote(evt.Owner),
		"{{.Name}}", shellQuote(evt.Name),
		"{{.Ref}}", shellQuote(evt.Ref),
		"{{.Kind}}", shellQuote(string(evt.Kind)),
		"{{.Detail}}", shellQuote(evt.Body()),
	)
	return r.Replace(command)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
