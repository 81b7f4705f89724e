package source

import (
	"context"

	"github.com/zulandar/gitdeploy/internal/failure"
)

// ChangedFile is one file in a comparison.
type ChangedFile struct {
	Filename  string
	Status    string
	Additions int
	Deletions int
}

// Comparison summarizes the difference between two refs.
type Comparison struct {
	Status       string // ahead, behind, diverged or identical
	AheadBy      int
	BehindBy     int
	TotalCommits int
	Files        []ChangedFile
}

// Compare compares base...head.
func (c *Client) Compare(ctx context.Context, owner, name, base, head string) (*Response[Comparison], error) {
	ctx, cancel := c.call(ctx)
	defer cancel()
	cmp, resp, err := c.gh.Repositories.CompareCommits(ctx, owner, name, base, head, nil)
	if err := c.observe("compare", resp, err); err != nil {
		return nil, failure.Annotate(err, owner, name, base+"..."+head, "")
	}
	out := Comparison{
		Status:       cmp.GetStatus(),
		AheadBy:      cmp.GetAheadBy(),
		BehindBy:     cmp.GetBehindBy(),
		TotalCommits: cmp.GetTotalCommits(),
	}
	for _, f := range cmp.Files {
		out.Files = append(out.Files, ChangedFile{
			Filename:  f.GetFilename(),
			Status:    f.GetStatus(),
			Additions: f.GetAdditions(),
			Deletions: f.GetDeletions(),
		})
	}
	return newResponse(out, resp), nil
}
