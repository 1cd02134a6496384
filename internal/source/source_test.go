package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/vecsnap/internal/failure"
)

func TestParseRepo(t *testing.T) {
	tests := []struct {
		in      string
		want    Repo
		wantErr bool
	}{
		{in: "acme/api", want: Repo{Owner: "acme", Name: "api"}},
		{in: " acme/api@release ", want: Repo{Owner: "acme", Name: "api", Branch: "release"}},
		{in: "acme", wantErr: true},
		{in: "/api", wantErr: true},
		{in: "acme/", wantErr: true},
		{in: "acme/api/extra", wantErr: true},
		{in: "acme/api@", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRepo(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRepo)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	r := Repo{Owner: "acme", Name: "api", Branch: "main"}
	assert.Equal(t, "acme/api", r.FullName())
	assert.Equal(t, "acme/api@main", r.String())
}

func TestFilter_Eligible(t *testing.T) {
	f := &Filter{
		Include: []string{"*.go", "*.ts", "docs/*.md"},
		Exclude: []string{"*_test.go", "generated/**"},
	}
	require.NoError(t, f.Validate())

	tests := []struct {
		entry TreeEntry
		want  bool
	}{
		{TreeEntry{Path: "main.go", Size: 100}, true},
		{TreeEntry{Path: "web/a.ts", Size: 100}, true},
		{TreeEntry{Path: "docs/intro.md", Size: 100}, true},
		{TreeEntry{Path: "README.md", Size: 100}, false},
		{TreeEntry{Path: "main_test.go", Size: 100}, false},
		{TreeEntry{Path: "generated/x.go", Size: 100}, false},
		{TreeEntry{Path: "vendor/lib/x.go", Size: 100}, false},
		{TreeEntry{Path: "web/node_modules/a.ts", Size: 100}, false},
		{TreeEntry{Path: "big.go", Size: DefaultMaxFileSize + 1}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, f.Eligible(tt.entry), tt.entry.Path)
	}
}

func TestFilter_Validate(t *testing.T) {
	assert.Error(t, (&Filter{Include: []string{"[bad"}}).Validate())
	assert.Error(t, (&Filter{MaxFileSize: 11 * 1024 * 1024}).Validate())

	f := &Filter{}
	require.NoError(t, f.Validate())
	assert.Equal(t, DefaultMaxFileSize, f.MaxFileSize)
	assert.True(t, f.Eligible(TreeEntry{Path: "anything.txt"}))
}

func TestIsText(t *testing.T) {
	assert.True(t, IsText([]byte("package main\n")))
	assert.False(t, IsText([]byte{0xff, 0xfe, 0x00}))
	assert.False(t, IsText([]byte("a\x00b")))
}

func newTestGitHub(t *testing.T, mux *http.ServeMux) *GitHubLister {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := github.NewClient(nil)
	u, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	client.BaseURL = u

	return NewGitHubListerFromClient(client, GitHubConfig{Retry: fastRetry(1)}, nil)
}

func TestGitHubLister(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/api/commits", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "main", r.URL.Query().Get("sha"))
		switch r.URL.Query().Get("path") {
		case "":
		case "a.go":
			assert.Equal(t, "1", r.URL.Query().Get("per_page"))
			fmt.Fprint(w, `[{"sha":"c2","commit":{"message":"init","author":{"name":"ann","date":"2026-01-01T00:00:00Z"}}}]`)
			return
		default:
			fmt.Fprint(w, `[]`)
			return
		}
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `[{"sha":"c2","commit":{"message":"init","author":{"name":"ann","date":"2026-01-01T00:00:00Z"}}}]`)
			return
		}
		w.Header().Set("Link", `<`+"http://"+r.Host+`/repos/acme/api/commits?page=2>; rel="next"`)
		fmt.Fprint(w, `[{"sha":"c1","commit":{"message":"fix bug","author":{"name":"bob","date":"2026-02-03T04:05:06Z"}}}]`)
	})
	mux.HandleFunc("GET /repos/acme/api/git/trees/main", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("recursive"))
		fmt.Fprint(w, `{"sha":"t1","truncated":false,"tree":[
			{"path":"a.go","type":"blob","sha":"b1","size":9},
			{"path":"pkg","type":"tree","sha":"t2"},
			{"path":"pkg/b.go","type":"blob","sha":"b2","size":12}]}`)
	})
	mux.HandleFunc("GET /repos/acme/api/contents/a.go", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"type":"file","name":"a.go","path":"a.go","encoding":"base64","content":"cGFja2FnZSBh"}`)
	})
	mux.HandleFunc("GET /repos/acme/api/contents/missing.go", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	})
	mux.HandleFunc("GET /repos/acme/api", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name":"api","default_branch":"main"}`)
	})
	mux.HandleFunc("GET /repos/acme/gone/git/trees/main", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	})

	g := newTestGitHub(t, mux)
	ctx := context.Background()
	repo := Repo{Owner: "acme", Name: "api", Branch: "main"}

	t.Run("commits follow pagination", func(t *testing.T) {
		commits, err := g.ListCommits(ctx, repo, nil)
		require.NoError(t, err)
		require.Len(t, commits, 2)
		assert.Equal(t, "c1", commits[0].Hash)
		assert.Equal(t, "bob", commits[0].Author)
		assert.Equal(t, "fix bug", commits[0].Message)
		assert.True(t, commits[0].Date.Equal(time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)))
	})

	t.Run("tree lists blobs only", func(t *testing.T) {
		tree, err := g.ListTree(ctx, repo, "main")
		require.NoError(t, err)
		assert.Equal(t, "t1", tree.SHA)
		assert.Equal(t, []TreeEntry{{Path: "a.go", SHA: "b1", Size: 9}, {Path: "pkg/b.go", SHA: "b2", Size: 12}}, tree.Entries)
		assert.Contains(t, tree.Paths(), "pkg/b.go")
	})

	t.Run("file content", func(t *testing.T) {
		content, ok, err := g.GetFileContent(ctx, repo, "a.go")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "package a", string(content))

		_, ok, err = g.GetFileContent(ctx, repo, "missing.go")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("last commit date of a path", func(t *testing.T) {
		date, ok, err := g.LastCommitDate(ctx, repo, "a.go")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, date.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))

		_, ok, err = g.LastCommitDate(ctx, repo, "never.go")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("default branch", func(t *testing.T) {
		branch, err := g.DefaultBranch(ctx, repo)
		require.NoError(t, err)
		assert.Equal(t, "main", branch)
	})

	t.Run("missing repository is a provider error", func(t *testing.T) {
		_, err := g.ListTree(ctx, Repo{Owner: "acme", Name: "gone"}, "main")
		require.Error(t, err)
		assert.True(t, failure.IsProvider(err))
		assert.ErrorIs(t, err, ErrRepoNotFound)
	})
}

func TestNewGitHubClient_RequiresToken(t *testing.T) {
	_, err := NewGitHubClient(context.Background(), "", "")
	var ce *failure.ConfigError
	assert.ErrorAs(t, err, &ce)
}

func commitFile(t *testing.T, wt *git.Worktree, dir, name, content string, when time.Time) {
	t.Helper()
	full := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	_, err := wt.Add(name)
	require.NoError(t, err)
	_, err = wt.Commit("add "+name, &git.CommitOptions{
		Author: &object.Signature{Name: "dev", Email: "dev@example.com", When: when},
	})
	require.NoError(t, err)
}

func TestLocalLister(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "acme", "api")
	r, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := r.Worktree()
	require.NoError(t, err)

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	commitFile(t, wt, dir, "a.go", "package a\n", t0)
	commitFile(t, wt, dir, "pkg/b.go", "package b\n", t0.Add(48*time.Hour))

	l := NewLocalLister(root, nil, nil)
	ctx := context.Background()
	repo := Repo{Owner: "acme", Name: "api"}

	branch, err := l.DefaultBranch(ctx, repo)
	require.NoError(t, err)
	assert.NotEmpty(t, branch)
	repo.Branch = branch

	commits, err := l.ListCommits(ctx, repo, nil)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, "add pkg/b.go", commits[0].Message)

	since := t0.Add(time.Hour)
	commits, err = l.ListCommits(ctx, repo, &since)
	require.NoError(t, err)
	assert.Len(t, commits, 1)

	tree, err := l.ListTree(ctx, repo, branch)
	require.NoError(t, err)
	assert.NotEmpty(t, tree.SHA)
	assert.Len(t, tree.Entries, 2)
	assert.Contains(t, tree.Paths(), "pkg/b.go")

	content, ok, err := l.GetFileContent(ctx, repo, "pkg/b.go")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "package b\n", string(content))

	_, ok, err = l.GetFileContent(ctx, repo, "nope.go")
	require.NoError(t, err)
	assert.False(t, ok)

	// a.go was only touched by the first commit.
	date, ok, err := l.LastCommitDate(ctx, repo, "a.go")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, date.Equal(t0))

	date, ok, err = l.LastCommitDate(ctx, repo, "pkg/b.go")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, date.Equal(t0.Add(48*time.Hour)))

	_, err = l.ListTree(ctx, Repo{Owner: "acme", Name: "missing"}, "main")
	assert.ErrorIs(t, err, ErrRepoNotFound)
}
