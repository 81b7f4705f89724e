package source

import (
	"context"
	"fmt"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/zulandar/gitdeploy/internal/failure"
)

// RepoMetadata describes a repository.
type RepoMetadata struct {
	Owner         string
	Name          string
	FullName      string
	Description   string
	DefaultBranch string
	Private       bool
	Archived      bool
	HTMLURL       string
	UpdatedAt     time.Time
}

// Ref is a branch or tag.
type Ref struct {
	Name string
	SHA  string
}

// Release is a published (or draft) release.
type Release struct {
	TagName     string
	Name        string
	Draft       bool
	Prerelease  bool
	PublishedAt time.Time
}

// CommitInfo identifies a commit and its tree.
type CommitInfo struct {
	SHA     string
	TreeSHA string
}

// RepoPage is one page of a repository listing.
type RepoPage struct {
	Total        int
	Repositories []RepoMetadata
	NextPage     int // 0 when there are no more pages
}

func toMetadata(r *github.Repository) RepoMetadata {
	return RepoMetadata{
		Owner:         r.GetOwner().GetLogin(),
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		Description:   r.GetDescription(),
		DefaultBranch: r.GetDefaultBranch(),
		Private:       r.GetPrivate(),
		Archived:      r.GetArchived(),
		HTMLURL:       r.GetHTMLURL(),
		UpdatedAt:     r.GetUpdatedAt().Time,
	}
}

// GetRepository fetches repository metadata.
func (c *Client) GetRepository(ctx context.Context, owner, name string) (*Response[RepoMetadata], error) {
	ctx, cancel := c.call(ctx)
	defer cancel()
	repo, resp, err := c.gh.Repositories.Get(ctx, owner, name)
	if err := c.observe("get repository", resp, err); err != nil {
		return nil, failure.Annotate(err, owner, name, "", "")
	}
	return newResponse(toMetadata(repo), resp), nil
}

// GetBranches lists every branch, following pagination.
func (c *Client) GetBranches(ctx context.Context, owner, name string) (*Response[[]Ref], error) {
	ctx, cancel := c.call(ctx)
	defer cancel()
	var (
		refs []Ref
		last *github.Response
	)
	opts := &github.BranchListOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		branches, resp, err := c.gh.Repositories.ListBranches(ctx, owner, name, opts)
		if err := c.observe("list branches", resp, err); err != nil {
			return nil, failure.Annotate(err, owner, name, "", "")
		}
		for _, b := range branches {
			refs = append(refs, Ref{Name: b.GetName(), SHA: b.GetCommit().GetSHA()})
		}
		last = resp
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return newResponse(refs, last), nil
}

// GetTags lists every tag, newest semantic version first.
func (c *Client) GetTags(ctx context.Context, owner, name string) (*Response[[]Ref], error) {
	ctx, cancel := c.call(ctx)
	defer cancel()
	var (
		refs []Ref
		last *github.Response
	)
	opts := &github.ListOptions{PerPage: 100}
	for {
		tags, resp, err := c.gh.Repositories.ListTags(ctx, owner, name, opts)
		if err := c.observe("list tags", resp, err); err != nil {
			return nil, failure.Annotate(err, owner, name, "", "")
		}
		for _, t := range tags {
			refs = append(refs, Ref{Name: t.GetName(), SHA: t.GetCommit().GetSHA()})
		}
		last = resp
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return newResponse(SortTags(refs), last), nil
}

// GetReleases lists every release in the order GitHub returns them.
func (c *Client) GetReleases(ctx context.Context, owner, name string) (*Response[[]Release], error) {
	ctx, cancel := c.call(ctx)
	defer cancel()
	var (
		releases []Release
		last     *github.Response
	)
	opts := &github.ListOptions{PerPage: 100}
	for {
		page, resp, err := c.gh.Repositories.ListReleases(ctx, owner, name, opts)
		if err := c.observe("list releases", resp, err); err != nil {
			return nil, failure.Annotate(err, owner, name, "", "")
		}
		for _, r := range page {
			releases = append(releases, Release{
				TagName:     r.GetTagName(),
				Name:        r.GetName(),
				Draft:       r.GetDraft(),
				Prerelease:  r.GetPrerelease(),
				PublishedAt: r.GetPublishedAt().Time,
			})
		}
		last = resp
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return newResponse(releases, last), nil
}

// GetLatestCommit resolves ref to its commit.
func (c *Client) GetLatestCommit(ctx context.Context, owner, name, ref string) (*Response[CommitInfo], error) {
	ctx, cancel := c.call(ctx)
	defer cancel()
	commit, resp, err := c.gh.Repositories.GetCommit(ctx, owner, name, ref, nil)
	if err := c.observe("get latest commit", resp, err); err != nil {
		return nil, failure.Annotate(err, owner, name, ref, "")
	}
	info := CommitInfo{SHA: commit.GetSHA(), TreeSHA: commit.GetCommit().GetTree().GetSHA()}
	if info.SHA == "" {
		return nil, failure.Annotate(failure.New(failure.NotFound, "get latest commit: empty commit for ref"), owner, name, ref, "")
	}
	return newResponse(info, resp), nil
}

// GetFileContents returns the decoded contents of a file at ref.
func (c *Client) GetFileContents(ctx context.Context, owner, name, path, ref string) (*Response[[]byte], error) {
	ctx, cancel := c.call(ctx)
	defer cancel()
	var opts *github.RepositoryContentGetOptions
	if ref != "" {
		opts = &github.RepositoryContentGetOptions{Ref: ref}
	}
	file, _, resp, err := c.gh.Repositories.GetContents(ctx, owner, name, path, opts)
	if err := c.observe("get file contents", resp, err); err != nil {
		return nil, failure.Annotate(err, owner, name, ref, "")
	}
	if file == nil {
		return nil, failure.Annotate(failure.New(failure.NotFound, "get file contents: %s is a directory", path), owner, name, ref, "")
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, failure.Annotate(failure.Wrap(failure.Transport, err, "get file contents: decode %s", path), owner, name, ref, "")
	}
	return newResponse([]byte(content), resp), nil
}

// ResolveDownloadURL returns a URL the archive can be fetched from. Without
// a token it is the public archive URL. With a token the zipball endpoint
// is requested without following redirects and the Location it answers
// with is returned, so the token never appears in the URL.
func (c *Client) ResolveDownloadURL(ctx context.Context, owner, name, ref string) (*Response[string], error) {
	if !c.authenticated {
		u := fmt.Sprintf("%s/%s/%s/archive/%s.zip", c.archiveBase, owner, name, ref)
		return &Response[string]{Data: u, Headers: map[string]string{}}, nil
	}
	ctx, cancel := c.call(ctx)
	defer cancel()
	link, resp, err := c.gh.Repositories.GetArchiveLink(ctx, owner, name, github.Zipball,
		&github.RepositoryContentGetOptions{Ref: ref}, 0)
	if err := c.observe("resolve download url", resp, err); err != nil {
		return nil, failure.Annotate(err, owner, name, ref, "")
	}
	if link == nil || link.String() == "" {
		return nil, failure.Annotate(failure.New(failure.Transport, "resolve download url: no location header"), owner, name, ref, "")
	}
	out := newResponse(link.String(), resp)
	out.Headers["location"] = link.String()
	return out, nil
}

// SearchRepositories runs a repository search and returns one page.
func (c *Client) SearchRepositories(ctx context.Context, query string, page int) (*Response[RepoPage], error) {
	ctx, cancel := c.call(ctx)
	defer cancel()
	result, resp, err := c.gh.Search.Repositories(ctx, query, &github.SearchOptions{
		ListOptions: github.ListOptions{Page: page, PerPage: PageSize},
	})
	if err := c.observe("search repositories", resp, err); err != nil {
		return nil, err
	}
	out := RepoPage{Total: result.GetTotal(), NextPage: resp.NextPage}
	for _, r := range result.Repositories {
		out.Repositories = append(out.Repositories, toMetadata(r))
	}
	return newResponse(out, resp), nil
}

// ListUserRepositories lists a user's repositories, most recently updated
// first. An empty user lists the authenticated user's repositories.
func (c *Client) ListUserRepositories(ctx context.Context, user string, page int) (*Response[RepoPage], error) {
	ctx, cancel := c.call(ctx)
	defer cancel()
	list := github.ListOptions{Page: page, PerPage: PageSize}
	var (
		repos []*github.Repository
		resp  *github.Response
		err   error
	)
	if user == "" {
		if !c.authenticated {
			return nil, failure.New(failure.AuthRequired, "list repositories: authentication required to list your own repositories")
		}
		repos, resp, err = c.gh.Repositories.ListByAuthenticatedUser(ctx, &github.RepositoryListByAuthenticatedUserOptions{
			Sort: "updated", ListOptions: list,
		})
	} else {
		repos, resp, err = c.gh.Repositories.ListByUser(ctx, user, &github.RepositoryListByUserOptions{
			Sort: "updated", ListOptions: list,
		})
	}
	if err := c.observe("list user repositories", resp, err); err != nil {
		return nil, err
	}
	return newResponse(toPage(repos, resp), resp), nil
}

// ListOrgRepositories lists an organization's repositories, most recently
// updated first.
func (c *Client) ListOrgRepositories(ctx context.Context, org string, page int) (*Response[RepoPage], error) {
	ctx, cancel := c.call(ctx)
	defer cancel()
	repos, resp, err := c.gh.Repositories.ListByOrg(ctx, org, &github.RepositoryListByOrgOptions{
		Sort: "updated", ListOptions: github.ListOptions{Page: page, PerPage: PageSize},
	})
	if err := c.observe("list org repositories", resp, err); err != nil {
		return nil, err
	}
	return newResponse(toPage(repos, resp), resp), nil
}

func toPage(repos []*github.Repository, resp *github.Response) RepoPage {
	out := RepoPage{Total: len(repos), NextPage: resp.NextPage}
	for _, r := range repos {
		out.Repositories = append(out.Repositories, toMetadata(r))
	}
	return out
}
