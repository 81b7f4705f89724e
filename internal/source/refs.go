package source

import (
	"bytes"
	"context"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/zulandar/gitdeploy/internal/failure"
	"github.com/zulandar/gitdeploy/internal/models"
)

var segment = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ParseRepositoryURL extracts owner and name from a GitHub URL such as
// https://github.com/acme/widget(.git), with or without scheme and extra
// path segments, or from "acme/widget" shorthand.
func ParseRepositoryURL(raw string) (owner, name string, err error) {
	s := strings.TrimSpace(raw)
	path := s
	if strings.Contains(s, "://") || strings.HasPrefix(s, "github.com/") || strings.HasPrefix(s, "www.github.com/") {
		if !strings.Contains(s, "://") {
			s = "https://" + s
		}
		u, perr := url.Parse(s)
		if perr != nil || !isGitHubHost(u.Hostname()) {
			return "", "", failure.New(failure.InvalidReference, "invalid GitHub repository URL %q", raw)
		}
		path = u.Path
	} else if strings.HasPrefix(s, "git@github.com:") {
		path = strings.TrimPrefix(s, "git@github.com:")
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 {
		return "", "", failure.New(failure.InvalidReference, "invalid GitHub repository URL %q", raw)
	}
	owner, name = parts[0], strings.TrimSuffix(parts[1], ".git")
	if !segment.MatchString(owner) || !segment.MatchString(name) || name == "." || name == ".." {
		return "", "", failure.New(failure.InvalidReference, "invalid GitHub repository URL %q", raw)
	}
	return owner, name, nil
}

func isGitHubHost(host string) bool {
	host = strings.ToLower(host)
	return host == "github.com" || host == "www.github.com"
}

// DetectKind guesses the artifact kind from the repository contents at
// ref: a style.css with a "Theme Name:" header is a theme, otherwise a
// plugin. Missing files are not errors.
func (c *Client) DetectKind(ctx context.Context, owner, name, ref string) (models.Kind, error) {
	style, err := c.GetFileContents(ctx, owner, name, "style.css", ref)
	switch {
	case err == nil && bytes.Contains(style.Data, []byte("Theme Name:")):
		return models.KindTheme, nil
	case err != nil && !failure.Is(err, failure.NotFound):
		return "", err
	}

	plugin, err := c.GetFileContents(ctx, owner, name, name+".php", ref)
	switch {
	case err == nil && bytes.Contains(plugin.Data, []byte("Plugin Name:")):
		return models.KindPlugin, nil
	case err != nil && !failure.Is(err, failure.NotFound):
		return "", err
	}
	return models.KindPlugin, nil
}

// SortTags orders refs by semantic version, newest first. Names that do
// not parse as versions follow in name order.
func SortTags(refs []Ref) []Ref {
	out := make([]Ref, len(refs))
	copy(out, refs)
	versions := make(map[string]*semver.Version, len(out))
	for _, r := range out {
		if v, err := semver.NewVersion(r.Name); err == nil {
			versions[r.Name] = v
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		vi, iok := versions[out[i].Name]
		vj, jok := versions[out[j].Name]
		switch {
		case iok && jok:
			if vi.Equal(vj) {
				return out[i].Name < out[j].Name
			}
			return vi.GreaterThan(vj)
		case iok != jok:
			return iok
		}
		return out[i].Name < out[j].Name
	})
	return out
}
