// Package source lists commits and file trees of the configured
// repositories.
//
// A Lister is implemented for the GitHub API (GitHubLister) and for local
// clones opened with go-git (LocalLister). Both report blob SHAs with git's
// object hashing, so tree listings from either are interchangeable for
// incremental ingestion.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidRepo indicates a repository reference that cannot be parsed.
	ErrInvalidRepo = errors.New("invalid repository reference")

	// ErrRepoNotFound indicates the repository does not exist or is not visible.
	ErrRepoNotFound = errors.New("repository not found")
)

// Repo identifies a repository and, optionally, the branch to read.
type Repo struct {
	Owner  string
	Name   string
	Branch string
}

// ParseRepo parses "owner/name" or "owner/name@branch".
func ParseRepo(s string) (Repo, error) {
	s = strings.TrimSpace(s)
	ref, branch, _ := strings.Cut(s, "@")
	owner, name, ok := strings.Cut(ref, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Repo{}, fmt.Errorf("%w: %q (want owner/name[@branch])", ErrInvalidRepo, s)
	}
	if strings.Contains(s, "@") && branch == "" {
		return Repo{}, fmt.Errorf("%w: %q has an empty branch", ErrInvalidRepo, s)
	}
	return Repo{Owner: owner, Name: name, Branch: branch}, nil
}

// FullName returns "owner/name".
func (r Repo) FullName() string {
	return r.Owner + "/" + r.Name
}

func (r Repo) String() string {
	if r.Branch == "" {
		return r.FullName()
	}
	return r.FullName() + "@" + r.Branch
}

// Commit is a single commit on a branch.
type Commit struct {
	Hash    string
	Author  string
	Message string
	Date    time.Time
}

// TreeEntry is a blob in a tree listing.
type TreeEntry struct {
	Path string
	SHA  string
	Size int64
}

// Tree is a recursive listing of the blobs reachable from a branch head.
type Tree struct {
	SHA     string
	Entries []TreeEntry
	// Truncated is set when the listing is incomplete. Callers must not
	// treat missing paths of a truncated tree as deleted.
	Truncated bool
}

// Paths returns the set of blob paths in the tree.
func (t Tree) Paths() map[string]struct{} {
	out := make(map[string]struct{}, len(t.Entries))
	for _, e := range t.Entries {
		out[e.Path] = struct{}{}
	}
	return out
}

// Lister reads repository history and trees.
type Lister interface {
	// ListCommits returns commits on repo.Branch, newest first. A non-nil
	// since restricts the result to commits after that time.
	ListCommits(ctx context.Context, repo Repo, since *time.Time) ([]Commit, error)

	// ListTree returns the recursive blob listing of branch.
	ListTree(ctx context.Context, repo Repo, branch string) (Tree, error)

	// GetFileContent returns the content of path at repo.Branch. The bool
	// is false when the file does not exist.
	GetFileContent(ctx context.Context, repo Repo, path string) ([]byte, bool, error)

	// LastCommitDate returns the date of the newest commit on repo.Branch
	// that touched path. The bool is false when no such commit exists.
	LastCommitDate(ctx context.Context, repo Repo, path string) (time.Time, bool, error)

	// DefaultBranch returns the repository's default branch.
	DefaultBranch(ctx context.Context, repo Repo) (string, error)
}
