package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/vecsnap/internal/failure"
)

const (
	providerGitHub   = "github"
	commitsPerPage   = 100
	defaultMaxPages  = 50
	tracerSourceName = "github.com/fyrsmithlabs/vecsnap/internal/source"
)

// GitHubConfig configures a GitHubLister.
type GitHubConfig struct {
	// Token is a personal access or app installation token.
	Token string
	// BaseURL targets GitHub Enterprise, e.g. https://ghe.example.com/api/v3/.
	BaseURL string
	// MaxCommitPages bounds commit pagination per call. Defaults to 50.
	MaxCommitPages int
	Retry          *RetryConfig
}

// GitHubLister implements Lister against the GitHub REST API.
type GitHubLister struct {
	client   *github.Client
	retry    *RetryConfig
	maxPages int
	logger   *zap.Logger
}

// NewGitHubClient creates a GitHub client authenticated with token.
func NewGitHubClient(ctx context.Context, token, baseURL string) (*github.Client, error) {
	if token == "" {
		return nil, failure.NewConfigError("sources.github_token", "GitHub token not set")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := github.NewClient(oauth2.NewClient(ctx, ts))
	if baseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
		if err != nil {
			return nil, failure.NewConfigError("sources.github_base_url", err.Error())
		}
		client.BaseURL = u
	}
	return client, nil
}

// NewGitHubLister creates a GitHubLister.
func NewGitHubLister(ctx context.Context, cfg GitHubConfig, logger *zap.Logger) (*GitHubLister, error) {
	client, err := NewGitHubClient(ctx, cfg.Token, cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	return NewGitHubListerFromClient(client, cfg, logger), nil
}

// NewGitHubListerFromClient wraps an existing client. The token in cfg is
// ignored.
func NewGitHubListerFromClient(client *github.Client, cfg GitHubConfig, logger *zap.Logger) *GitHubLister {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxCommitPages <= 0 {
		cfg.MaxCommitPages = defaultMaxPages
	}
	retry := cfg.Retry
	if retry == nil {
		retry = DefaultRetryConfig()
	}
	return &GitHubLister{
		client:   client,
		retry:    retry,
		maxPages: cfg.MaxCommitPages,
		logger:   logger.Named("github"),
	}
}

// ListCommits implements Lister.
func (g *GitHubLister) ListCommits(ctx context.Context, repo Repo, since *time.Time) ([]Commit, error) {
	ctx, span := otel.Tracer(tracerSourceName).Start(ctx, "GitHubLister.ListCommits")
	defer span.End()
	span.SetAttributes(attribute.String("repo", repo.String()))

	opts := &github.CommitsListOptions{
		SHA:         repo.Branch,
		ListOptions: github.ListOptions{PerPage: commitsPerPage},
	}
	if since != nil {
		opts.Since = *since
	}

	var out []Commit
	for page := 0; page < g.maxPages; page++ {
		var batch []*github.RepositoryCommit
		resp, err := retryGitHubOperation(ctx, g.retry, g.logger, func() (*github.Response, error) {
			var resp *github.Response
			var err error
			batch, resp, err = g.client.Repositories.ListCommits(ctx, repo.Owner, repo.Name, opts)
			return resp, err
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "list commits failed")
			return nil, g.wrap("list_commits", repo, resp, err)
		}

		for _, rc := range batch {
			c := rc.GetCommit()
			out = append(out, Commit{
				Hash:    rc.GetSHA(),
				Author:  c.GetAuthor().GetName(),
				Message: c.GetMessage(),
				Date:    c.GetAuthor().GetDate().Time,
			})
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	span.SetAttributes(attribute.Int("commits", len(out)))
	span.SetStatus(codes.Ok, "")
	return out, nil
}

// ListTree implements Lister.
func (g *GitHubLister) ListTree(ctx context.Context, repo Repo, branch string) (Tree, error) {
	ctx, span := otel.Tracer(tracerSourceName).Start(ctx, "GitHubLister.ListTree")
	defer span.End()
	span.SetAttributes(attribute.String("repo", repo.FullName()), attribute.String("branch", branch))

	var tree *github.Tree
	resp, err := retryGitHubOperation(ctx, g.retry, g.logger, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		tree, resp, err = g.client.Git.GetTree(ctx, repo.Owner, repo.Name, branch, true)
		return resp, err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "get tree failed")
		return Tree{}, g.wrap("list_tree", repo, resp, err)
	}

	out := Tree{SHA: tree.GetSHA(), Truncated: tree.GetTruncated()}
	for _, e := range tree.Entries {
		if e.GetType() != "blob" {
			continue
		}
		out.Entries = append(out.Entries, TreeEntry{
			Path: e.GetPath(),
			SHA:  e.GetSHA(),
			Size: int64(e.GetSize()),
		})
	}
	if out.Truncated {
		g.logger.Warn("tree listing truncated",
			zap.String("repo", repo.FullName()),
			zap.Int("entries", len(out.Entries)))
	}

	span.SetAttributes(attribute.Int("entries", len(out.Entries)))
	span.SetStatus(codes.Ok, "")
	return out, nil
}

// GetFileContent implements Lister.
func (g *GitHubLister) GetFileContent(ctx context.Context, repo Repo, path string) ([]byte, bool, error) {
	var file *github.RepositoryContent
	opts := &github.RepositoryContentGetOptions{Ref: repo.Branch}
	resp, err := retryGitHubOperation(ctx, g.retry, g.logger, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		file, _, resp, err = g.client.Repositories.GetContents(ctx, repo.Owner, repo.Name, path, opts)
		return resp, err
	})
	if err != nil {
		if getStatusCode(resp) == http.StatusNotFound {
			return nil, false, nil
		}
		return nil, false, g.wrap("get_contents", repo, resp, err)
	}
	if file == nil {
		// path is a directory
		return nil, false, nil
	}

	content, err := file.GetContent()
	if err != nil {
		return nil, false, g.wrap("get_contents", repo, resp, fmt.Errorf("decoding %s: %w", path, err))
	}
	return []byte(content), true, nil
}

// LastCommitDate implements Lister.
func (g *GitHubLister) LastCommitDate(ctx context.Context, repo Repo, path string) (time.Time, bool, error) {
	opts := &github.CommitsListOptions{
		SHA:         repo.Branch,
		Path:        path,
		ListOptions: github.ListOptions{PerPage: 1},
	}
	var batch []*github.RepositoryCommit
	resp, err := retryGitHubOperation(ctx, g.retry, g.logger, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		batch, resp, err = g.client.Repositories.ListCommits(ctx, repo.Owner, repo.Name, opts)
		return resp, err
	})
	if err != nil {
		return time.Time{}, false, g.wrap("list_path_commits", repo, resp, err)
	}
	if len(batch) == 0 {
		return time.Time{}, false, nil
	}
	return batch[0].GetCommit().GetAuthor().GetDate().Time, true, nil
}

// DefaultBranch implements Lister.
func (g *GitHubLister) DefaultBranch(ctx context.Context, repo Repo) (string, error) {
	var r *github.Repository
	resp, err := retryGitHubOperation(ctx, g.retry, g.logger, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		r, resp, err = g.client.Repositories.Get(ctx, repo.Owner, repo.Name)
		return resp, err
	})
	if err != nil {
		return "", g.wrap("get_repository", repo, resp, err)
	}
	branch := r.GetDefaultBranch()
	if branch == "" {
		return "", g.wrap("get_repository", repo, resp, errors.New("repository has no default branch"))
	}
	return branch, nil
}

func (g *GitHubLister) wrap(op string, repo Repo, resp *github.Response, err error) error {
	if getStatusCode(resp) == http.StatusNotFound {
		err = fmt.Errorf("%w: %s: %v", ErrRepoNotFound, repo.FullName(), err)
	}
	return failure.NewProviderError(providerGitHub, op, err)
}
