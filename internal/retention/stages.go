package retention

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/vecsnap/internal/failure"
	"github.com/fyrsmithlabs/vecsnap/internal/item"
	"github.com/fyrsmithlabs/vecsnap/internal/snapshot"
	"github.com/fyrsmithlabs/vecsnap/internal/source"
)

// Cutoff returns the Stage A cutoff for now.
func (e *Engine) Cutoff(now time.Time) time.Time {
	return now.AddDate(0, -e.config.WindowMonths, 0)
}

// StageA drops items whose retention date is before the cutoff. Items with
// no date and items of unknown type are kept.
func (e *Engine) StageA(items []item.Item, now time.Time) ([]item.Item, StageReport) {
	cutoff := e.Cutoff(now)
	kept := make([]item.Item, 0, len(items))
	for _, it := range items {
		if !it.Type.Known() {
			kept = append(kept, it)
			continue
		}
		date, ok := it.RetentionDate()
		if !ok || !date.Before(cutoff) {
			kept = append(kept, it)
		}
	}
	return kept, newStageReport(StageAge, len(items), len(kept))
}

// listing is the outcome of one repository tree listing.
type listing struct {
	paths map[string]struct{}
}

// StageB drops file items whose (owner, repo, path) key is missing from the
// live tree of their repository. Items of a repository that is no longer
// configured are dropped too. Only a failed listing makes a repository
// unknown, and its items are then kept. Without WithSources the stage keeps
// everything.
func (e *Engine) StageB(ctx context.Context, items []item.Item) ([]item.Item, StageReport, []*failure.PartialFailure) {
	if !e.reconcile {
		return items, newStageReport(StageSource, len(items), len(items)), nil
	}

	trees, failures := e.listTrees(ctx)
	unknown := make(map[string]struct{}, len(failures))
	for _, f := range failures {
		unknown[f.Unit] = struct{}{}
	}

	kept := make([]item.Item, 0, len(items))
	for _, it := range items {
		if it.Type != item.TypeFile {
			kept = append(kept, it)
			continue
		}
		key, ok := it.File.Key()
		if !ok {
			kept = append(kept, it)
			continue
		}
		name := key.Owner + "/" + key.Repo
		if _, failed := unknown[name]; failed {
			kept = append(kept, it)
			continue
		}
		tree, listed := trees[name]
		if !listed {
			continue
		}
		if _, present := tree.paths[key.Path]; present {
			kept = append(kept, it)
		}
	}
	return kept, newStageReport(StageSource, len(items), len(kept)), failures
}

// listTrees lists every configured repository under bounded concurrency.
// Failed repositories are absent from the returned map.
func (e *Engine) listTrees(ctx context.Context) (map[string]listing, []*failure.PartialFailure) {
	var (
		mu       sync.Mutex
		trees    = make(map[string]listing, len(e.repos))
		failures []*failure.PartialFailure
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Concurrency)
	for _, repo := range e.repos {
		g.Go(func() error {
			paths, err := e.listTree(gctx, repo)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, &failure.PartialFailure{Unit: repo.FullName(), Err: err})
				e.logger.Warn("tree listing failed, keeping files as unknown",
					zap.String("repo", repo.FullName()),
					zap.Error(err))
				return nil
			}
			trees[repo.FullName()] = listing{paths: paths}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(failures, func(i, j int) bool { return failures[i].Unit < failures[j].Unit })
	return trees, failures
}

func (e *Engine) listTree(ctx context.Context, repo source.Repo) (map[string]struct{}, error) {
	branch := repo.Branch
	if branch == "" {
		b, err := e.lister.DefaultBranch(ctx, repo)
		if err != nil {
			return nil, fmt.Errorf("resolving default branch: %w", err)
		}
		branch = b
	}
	tree, err := e.lister.ListTree(ctx, repo, branch)
	if err != nil {
		return nil, err
	}
	if tree.Truncated {
		return nil, fmt.Errorf("tree listing of %s@%s is truncated", repo.FullName(), branch)
	}
	return tree.Paths(), nil
}

// StageC prunes the lowest-priority items while the compressed size
// estimate exceeds the budget. It returns the kept items in input order and
// the final estimate.
//
// Each round computes target = floor(count × budget/estimate × margin) and
// keeps the first target items of the priority ranking (stable, so equal
// scores keep input order). Rounds repeat while the estimate is still over
// budget, up to MaxRounds.
func (e *Engine) StageC(items []item.Item, now time.Time) ([]item.Item, StageReport, int, error) {
	if e.config.BudgetBytes <= 0 {
		return items, newStageReport(StageCapacity, len(items), len(items)), 0, nil
	}

	estimate, err := snapshot.EstimateSize(items, now)
	if err != nil {
		return nil, StageReport{}, 0, fmt.Errorf("estimating snapshot size: %w", err)
	}
	if int64(estimate) <= e.config.BudgetBytes {
		return items, newStageReport(StageCapacity, len(items), len(items)), estimate, nil
	}

	order := e.rank(items, now)
	n := len(order)
	for round := 0; round < e.config.MaxRounds && int64(estimate) > e.config.BudgetBytes && n > 0; round++ {
		ratio := float64(e.config.BudgetBytes) / float64(estimate)
		target := int(math.Floor(float64(n) * ratio * e.config.SafetyMargin))
		if target >= n {
			target = n - 1
		}
		n = max(target, 0)

		estimate, err = snapshot.EstimateSize(inInputOrder(items, order[:n]), now)
		if err != nil {
			return nil, StageReport{}, 0, fmt.Errorf("estimating snapshot size: %w", err)
		}
		e.logger.Debug("capacity round",
			zap.Int("round", round+1),
			zap.Int("target", n),
			zap.Int("estimated_bytes", estimate))
	}

	if int64(estimate) > e.config.BudgetBytes {
		e.logger.Warn("capacity budget still exceeded after pruning",
			zap.Int("estimated_bytes", estimate),
			zap.Int64("budget_bytes", e.config.BudgetBytes))
	}

	kept := inInputOrder(items, order[:n])
	return kept, newStageReport(StageCapacity, len(items), len(kept)), estimate, nil
}

// ranked is an input index with its score.
type ranked struct {
	index int
	score int
}

func (e *Engine) rank(items []item.Item, now time.Time) []ranked {
	out := make([]ranked, len(items))
	for i := range items {
		out[i] = ranked{index: i, score: e.Score(&items[i], now)}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}

func inInputOrder(items []item.Item, keep []ranked) []item.Item {
	idx := make([]int, len(keep))
	for i, r := range keep {
		idx[i] = r.index
	}
	sort.Ints(idx)
	out := make([]item.Item, len(idx))
	for i, j := range idx {
		out[i] = items[j]
	}
	return out
}
