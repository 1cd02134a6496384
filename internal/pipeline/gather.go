package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/vecsnap/internal/chunker"
	"github.com/fyrsmithlabs/vecsnap/internal/failure"
	"github.com/fyrsmithlabs/vecsnap/internal/item"
	"github.com/fyrsmithlabs/vecsnap/internal/logging"
	"github.com/fyrsmithlabs/vecsnap/internal/source"
	"github.com/fyrsmithlabs/vecsnap/internal/state"
)

// BlobSHAKey is the Extra attribute holding a file chunk's blob SHA.
const BlobSHAKey = "blob_sha"

// group is a set of candidate items that is applied all-or-nothing. When
// every item embeds, the group's items are added and the ids in supersedes
// are dropped from the previous snapshot.
type group struct {
	key        string
	unit       string // repository full name, or qaUnit
	items      []item.Item
	supersedes []string

	mu     sync.Mutex
	failed error
}

func (g *group) fail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failed == nil {
		g.failed = err
	}
}

func (g *group) err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failed
}

const qaUnit = "qa"

// index answers lookups against the previous snapshot.
type index struct {
	ids   map[string]struct{}
	blobs map[item.FileKey]string
	files map[item.FileKey][]string
}

func newIndex(items []item.Item) *index {
	idx := &index{
		ids:   make(map[string]struct{}, len(items)),
		blobs: make(map[item.FileKey]string),
		files: make(map[item.FileKey][]string),
	}
	for i := range items {
		it := &items[i]
		idx.ids[it.ID] = struct{}{}
		if it.Type != item.TypeFile {
			continue
		}
		key, ok := it.File.Key()
		if !ok {
			continue
		}
		idx.files[key] = append(idx.files[key], it.ID)
		if sha := it.Extra[BlobSHAKey]; sha != "" && it.File.ChunkIndex == 0 {
			idx.blobs[key] = sha
		}
	}
	return idx
}

func (idx *index) has(id string) bool {
	_, ok := idx.ids[id]
	return ok
}

// repoResult is the outcome of gathering one repository.
type repoResult struct {
	repo   source.Repo
	groups []*group
	state  state.RepoState
	err    error
}

// gatherRepos gathers candidates for every configured repository under
// bounded concurrency. Results keep configuration order.
func (p *Pipeline) gatherRepos(ctx context.Context, st *state.State, prev *index, now time.Time) []*repoResult {
	results := make([]*repoResult, len(p.config.Repos))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Concurrency)
	for i, repo := range p.config.Repos {
		g.Go(func() error {
			rs, _ := st.Repo(repo.FullName())
			res := p.gatherRepo(logging.WithRepo(gctx, repo.FullName()), repo, rs, prev, now)
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Pipeline) gatherRepo(ctx context.Context, repo source.Repo, rs state.RepoState, prev *index, now time.Time) *repoResult {
	log := p.logger.With(logging.ContextFields(ctx)...)
	res := &repoResult{repo: repo, state: rs}

	branch := repo.Branch
	if branch == "" {
		b, err := p.lister.DefaultBranch(ctx, repo)
		if err != nil {
			res.err = fmt.Errorf("resolving default branch: %w", err)
			return res
		}
		branch = b
	}
	ref := repo
	ref.Branch = branch

	since := rs.LastUpdated
	if since.IsZero() {
		since = now.AddDate(0, -p.config.InitialLookbackMonths, 0)
	}
	commits, err := p.lister.ListCommits(ctx, ref, &since)
	if err != nil {
		res.err = fmt.Errorf("listing commits: %w", err)
		return res
	}

	if len(commits) > 0 {
		res.state.LastProcessedCommitHash = commits[0].Hash
	}
	for _, c := range commits {
		id := item.CommitID(repo.Owner, repo.Name, c.Hash)
		if c.Hash == rs.LastProcessedCommitHash || prev.has(id) {
			continue
		}
		res.groups = append(res.groups, &group{
			key:  id,
			unit: repo.FullName(),
			items: []item.Item{{
				ID:      id,
				Type:    item.TypeCommit,
				Content: p.scrub(ctx, c.Message),
				Commit: &item.CommitMeta{
					Owner:   repo.Owner,
					Repo:    repo.Name,
					Hash:    c.Hash,
					Author:  c.Author,
					Date:    item.TimePtr(c.Date),
					Message: c.Message,
				},
			}},
		})
	}

	tree, err := p.lister.ListTree(ctx, ref, branch)
	if err != nil {
		res.err = fmt.Errorf("listing tree: %w", err)
		return res
	}
	if tree.SHA != "" && tree.SHA == rs.LastTreeHash {
		log.Debug("tree unchanged", zap.String("tree", tree.SHA))
		res.state.LastUpdated = now
		return res
	}

	complete := !tree.Truncated
	cutoff := p.retention.Cutoff(now)
	files := 0
	for _, entry := range tree.Entries {
		if !p.config.Filter.Eligible(entry) {
			continue
		}
		key := item.FileKey{Owner: repo.Owner, Repo: repo.Name, Path: entry.Path}
		if entry.SHA != "" && prev.blobs[key] == entry.SHA {
			continue
		}
		if p.config.MaxFilesPerRepo > 0 && files >= p.config.MaxFilesPerRepo {
			log.Warn("file limit reached, deferring remaining files",
				zap.Int("max_files", p.config.MaxFilesPerRepo))
			complete = false
			break
		}

		date, ok, err := p.lister.LastCommitDate(ctx, ref, entry.Path)
		if err != nil {
			log.Warn("dating file failed", zap.String("path", entry.Path), zap.Error(err))
			complete = false
			continue
		}
		var lastCommit *time.Time
		if ok {
			// Files untouched since before the retention window would be
			// dropped again by the age stage.
			if date.Before(cutoff) {
				log.Debug("file older than retention window",
					zap.String("path", entry.Path), zap.Time("last_commit", date))
				continue
			}
			lastCommit = item.TimePtr(date)
		}

		content, ok, err := p.lister.GetFileContent(ctx, ref, entry.Path)
		if err != nil {
			log.Warn("fetching file failed", zap.String("path", entry.Path), zap.Error(err))
			complete = false
			continue
		}
		if !ok || !source.IsText(content) {
			continue
		}
		g := p.fileGroup(ctx, key, entry.SHA, string(content), lastCommit, prev)
		if g == nil {
			continue
		}
		res.groups = append(res.groups, g)
		files++
	}

	if complete {
		res.state.LastTreeHash = tree.SHA
	}
	res.state.LastUpdated = now
	log.Info("repository gathered",
		zap.Int("commits", len(commits)),
		zap.Int("tree_entries", len(tree.Entries)),
		zap.Int("changed_files", files))
	return res
}

func (p *Pipeline) fileGroup(ctx context.Context, key item.FileKey, sha, content string, date *time.Time, prev *index) *group {
	chunks := chunker.Lines(p.scrub(ctx, content), p.config.MaxLines)
	if len(chunks) == 0 {
		return nil
	}
	g := &group{
		key:        key.String(),
		unit:       key.Owner + "/" + key.Repo,
		supersedes: prev.files[key],
	}
	ext := filepath.Ext(key.Path)
	for i, chunk := range chunks {
		it := item.Item{
			ID:      item.FileID(key.Owner, key.Repo, key.Path, i),
			Type:    item.TypeFile,
			Content: chunk,
			File: &item.FileMeta{
				Owner:          key.Owner,
				Repo:           key.Repo,
				Path:           key.Path,
				ChunkIndex:     i,
				TotalChunks:    len(chunks),
				Extension:      ext,
				LastCommitDate: date,
			},
		}
		if sha != "" {
			it.Extra = map[string]string{BlobSHAKey: sha}
		}
		g.items = append(g.items, it)
	}
	return g
}

// gatherQA turns new interactions into candidate groups. It returns the
// newest timestamp seen.
func (p *Pipeline) gatherQA(ctx context.Context, since time.Time, prev *index) ([]*group, time.Time, error) {
	if p.qa == nil {
		return nil, since, nil
	}
	interactions, err := p.qa.Since(ctx, since)
	if err != nil {
		return nil, since, err
	}

	newest := since
	var groups []*group
	for _, in := range interactions {
		if in.Timestamp.After(newest) {
			newest = in.Timestamp
		}
		id := item.QAID(in.SessionID, in.ID)
		if prev.has(id) {
			continue
		}
		groups = append(groups, &group{
			key:  id,
			unit: qaUnit,
			items: []item.Item{{
				ID:      id,
				Type:    item.TypeQA,
				Content: p.scrub(ctx, in.Content()),
				QA: &item.QAMeta{
					SessionID: in.SessionID,
					Timestamp: item.TimePtr(in.Timestamp),
					Category:  in.Category,
				},
			}},
		})
	}
	return groups, newest, nil
}

// embed fills in embeddings for every group item under bounded concurrency.
// A failing item marks its whole group failed; siblings continue.
func (p *Pipeline) embed(ctx context.Context, groups []*group) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Concurrency)
	for _, grp := range groups {
		for i := range grp.items {
			g.Go(func() error {
				if grp.err() != nil {
					return nil
				}
				v, err := p.embedder.EmbedLong(gctx, grp.items[i].Content)
				if err != nil {
					grp.fail(failure.NewProviderError("embedding", "embed_item", err))
					return nil
				}
				grp.items[i].Embedding = v
				return nil
			})
		}
	}
	_ = g.Wait()
}
