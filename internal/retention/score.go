package retention

import (
	"strings"
	"time"

	"github.com/fyrsmithlabs/vecsnap/internal/item"
)

// Priority scores.
const (
	scoreCommitRecent = 100
	scoreCommitOld    = 50
	scoreFileBase     = 40
	scoreFileSource   = 40
	scoreFileContinue = -30
	scoreQARecent     = 90
	scoreQAOld        = 30
)

var defaultSourceExtensions = []string{
	"go", "ts", "tsx", "js", "jsx", "mjs", "cjs", "py", "rb", "rs", "java",
	"kt", "kts", "scala", "swift", "c", "h", "cc", "cpp", "hpp", "cs", "php",
	"m", "mm", "sh", "bash", "sql", "lua", "dart", "ex", "exs", "erl", "hs",
	"clj", "vue", "svelte", "proto",
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

func (e *Engine) isSourceExtension(ext string) bool {
	ext = normalizeExt(ext)
	if ext == "" {
		return false
	}
	exts := e.config.SourceExtensions
	if len(exts) == 0 {
		exts = defaultSourceExtensions
	}
	for _, candidate := range exts {
		if normalizeExt(candidate) == ext {
			return true
		}
	}
	return false
}

// Score returns the Stage C priority of it at now. Higher survives longer.
//
//	commit  100 within RecentCommit, else 50
//	file    40, +40 for a source extension, -30 past the first chunk
//	qa      90 within RecentQA, else 30
//	other   0
func (e *Engine) Score(it *item.Item, now time.Time) int {
	switch it.Type {
	case item.TypeCommit:
		if date, ok := it.RetentionDate(); ok && now.Sub(date) <= e.config.RecentCommit {
			return scoreCommitRecent
		}
		return scoreCommitOld
	case item.TypeFile:
		score := scoreFileBase
		if it.File != nil {
			if e.isSourceExtension(it.File.Extension) {
				score += scoreFileSource
			}
			if it.File.ChunkIndex > 0 {
				score += scoreFileContinue
			}
		}
		return score
	case item.TypeQA:
		if date, ok := it.RetentionDate(); ok && now.Sub(date) <= e.config.RecentQA {
			return scoreQARecent
		}
		return scoreQAOld
	default:
		return 0
	}
}
