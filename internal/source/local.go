package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vecsnap/internal/failure"
)

const providerLocal = "git"

// LocalLister implements Lister over local clones.
//
// A repository owner/name is opened from Paths["owner/name"] when present,
// otherwise from Root/owner/name.
type LocalLister struct {
	Root   string
	Paths  map[string]string
	logger *zap.Logger
}

// NewLocalLister creates a LocalLister rooted at root.
func NewLocalLister(root string, paths map[string]string, logger *zap.Logger) *LocalLister {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalLister{Root: root, Paths: paths, logger: logger.Named("git")}
}

func (l *LocalLister) open(repo Repo) (*git.Repository, error) {
	dir, ok := l.Paths[repo.FullName()]
	if !ok {
		dir = filepath.Join(l.Root, repo.Owner, repo.Name)
	}
	r, err := git.PlainOpen(dir)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s at %s", ErrRepoNotFound, repo.FullName(), dir)
		}
		return nil, fmt.Errorf("opening %s: %w", dir, err)
	}
	return r, nil
}

// resolve returns the commit at the head of branch, or HEAD when branch is
// empty.
func resolve(r *git.Repository, branch string) (*object.Commit, error) {
	var (
		ref *plumbing.Reference
		err error
	)
	if branch == "" {
		ref, err = r.Head()
	} else {
		ref, err = r.Reference(plumbing.NewBranchReferenceName(branch), true)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving branch %q: %w", branch, err)
	}
	return r.CommitObject(ref.Hash())
}

// ListCommits implements Lister.
func (l *LocalLister) ListCommits(ctx context.Context, repo Repo, since *time.Time) ([]Commit, error) {
	r, err := l.open(repo)
	if err != nil {
		return nil, failure.NewProviderError(providerLocal, "list_commits", err)
	}
	head, err := resolve(r, repo.Branch)
	if err != nil {
		return nil, failure.NewProviderError(providerLocal, "list_commits", err)
	}

	iter, err := r.Log(&git.LogOptions{From: head.Hash, Order: git.LogOrderCommitterTime})
	if err != nil {
		return nil, failure.NewProviderError(providerLocal, "list_commits", err)
	}
	defer iter.Close()

	var out []Commit
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if since != nil && !c.Author.When.After(*since) {
			return nil
		}
		out = append(out, Commit{
			Hash:    c.Hash.String(),
			Author:  c.Author.Name,
			Message: c.Message,
			Date:    c.Author.When.UTC(),
		})
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, failure.NewProviderError(providerLocal, "list_commits", err)
	}
	return out, nil
}

// ListTree implements Lister.
func (l *LocalLister) ListTree(ctx context.Context, repo Repo, branch string) (Tree, error) {
	r, err := l.open(repo)
	if err != nil {
		return Tree{}, failure.NewProviderError(providerLocal, "list_tree", err)
	}
	head, err := resolve(r, branch)
	if err != nil {
		return Tree{}, failure.NewProviderError(providerLocal, "list_tree", err)
	}
	tree, err := head.Tree()
	if err != nil {
		return Tree{}, failure.NewProviderError(providerLocal, "list_tree", err)
	}

	out := Tree{SHA: tree.Hash.String()}
	err = tree.Files().ForEach(func(f *object.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		out.Entries = append(out.Entries, TreeEntry{
			Path: f.Name,
			SHA:  f.Hash.String(),
			Size: f.Size,
		})
		return nil
	})
	if err != nil {
		return Tree{}, failure.NewProviderError(providerLocal, "list_tree", err)
	}
	return out, nil
}

// GetFileContent implements Lister.
func (l *LocalLister) GetFileContent(_ context.Context, repo Repo, path string) ([]byte, bool, error) {
	r, err := l.open(repo)
	if err != nil {
		return nil, false, failure.NewProviderError(providerLocal, "get_contents", err)
	}
	head, err := resolve(r, repo.Branch)
	if err != nil {
		return nil, false, failure.NewProviderError(providerLocal, "get_contents", err)
	}

	f, err := head.File(path)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, false, nil
		}
		return nil, false, failure.NewProviderError(providerLocal, "get_contents", err)
	}
	content, err := f.Contents()
	if err != nil {
		return nil, false, failure.NewProviderError(providerLocal, "get_contents", err)
	}
	return []byte(content), true, nil
}

// LastCommitDate implements Lister.
func (l *LocalLister) LastCommitDate(_ context.Context, repo Repo, path string) (time.Time, bool, error) {
	r, err := l.open(repo)
	if err != nil {
		return time.Time{}, false, failure.NewProviderError(providerLocal, "list_path_commits", err)
	}
	head, err := resolve(r, repo.Branch)
	if err != nil {
		return time.Time{}, false, failure.NewProviderError(providerLocal, "list_path_commits", err)
	}

	iter, err := r.Log(&git.LogOptions{
		From:     head.Hash,
		Order:    git.LogOrderCommitterTime,
		FileName: &path,
	})
	if err != nil {
		return time.Time{}, false, failure.NewProviderError(providerLocal, "list_path_commits", err)
	}
	defer iter.Close()

	c, err := iter.Next()
	if errors.Is(err, io.EOF) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, failure.NewProviderError(providerLocal, "list_path_commits", err)
	}
	return c.Author.When.UTC(), true, nil
}

// DefaultBranch implements Lister. It returns the branch HEAD points at.
func (l *LocalLister) DefaultBranch(_ context.Context, repo Repo) (string, error) {
	r, err := l.open(repo)
	if err != nil {
		return "", failure.NewProviderError(providerLocal, "default_branch", err)
	}
	ref, err := r.Head()
	if err != nil {
		return "", failure.NewProviderError(providerLocal, "default_branch", err)
	}
	if !ref.Name().IsBranch() {
		return "", failure.NewProviderError(providerLocal, "default_branch",
			fmt.Errorf("HEAD of %s is detached", repo.FullName()))
	}
	return ref.Name().Short(), nil
}
