package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/vecsnap/internal/item"
	"github.com/fyrsmithlabs/vecsnap/internal/query"
)

type queryFlags struct {
	vector   string
	text     string
	k        int
	minScore float64
	filter   map[string]string
}

func newQueryCmd() *cobra.Command {
	var f queryFlags
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Search the published snapshot",
		Long: `Search the published snapshot by vector or by text. Text is embedded with
the configured provider first.

Examples:
  vecsnap query --text "how is the snapshot published?" -k 3
  vecsnap query --vector 0.1,0.2,0.3 --filter type=commit --filter repo=api`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runQuery(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.vector, "vector", "", "comma-separated query vector")
	cmd.Flags().StringVar(&f.text, "text", "", "query text to embed")
	cmd.Flags().IntVarP(&f.k, "k", "k", 0, "number of results (default from query.default_k)")
	cmd.Flags().Float64Var(&f.minScore, "min-score", 0, "discard results scoring below this")
	cmd.Flags().StringToStringVar(&f.filter, "filter", nil, "exact attribute match, key=value (repeatable)")
	cmd.MarkFlagsMutuallyExclusive("vector", "text")
	cmd.MarkFlagsOneRequired("vector", "text")
	return cmd
}

func runQuery(cmd *cobra.Command, f queryFlags) error {
	ctx := cmd.Context()
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	var vec []float32
	if f.text != "" {
		embedder, err := a.newEmbedder()
		if err != nil {
			return err
		}
		if vec, err = embedder.EmbedLong(ctx, f.text); err != nil {
			return fmt.Errorf("embedding query text: %w", err)
		}
	} else if vec, err = parseVector(f.vector); err != nil {
		return err
	}

	req := query.Request{Vector: vec, K: f.k, Filter: f.filter}
	if req.K == 0 {
		req.K = a.cfg.Query.DefaultK
	}
	if cmd.Flags().Changed("min-score") {
		req.MinScore = &f.minScore
	}

	results, err := a.newStore().Query(ctx, req)
	if err != nil {
		return err
	}
	if results == nil {
		results = []query.Result{}
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func parseVector(s string) ([]float32, error) {
	fields := strings.Split(s, ",")
	out := make([]float32, 0, len(fields))
	for _, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", field, err)
		}
		out = append(out, float32(v))
	}
	return out, nil
}

func newExportInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export-info",
		Short: "Describe the published snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			snap, err := a.newStore().Snapshot(ctx)
			if err != nil {
				return err
			}

			byType := make(map[item.Type]int)
			repos := make(map[string]int)
			for i := range snap.Items {
				it := &snap.Items[i]
				byType[it.Type]++
				attrs := it.Attributes()
				if attrs["repo"] != "" {
					repos[attrs["owner"]+"/"+attrs["repo"]]++
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Version:    %d\n", snap.Version)
			fmt.Fprintf(out, "Created:    %s\n", snap.CreatedAt.Format(time.RFC3339))
			fmt.Fprintf(out, "Items:      %d\n", snap.Count)
			fmt.Fprintf(out, "Dimension:  %d\n", snap.Dimension)
			for _, t := range []item.Type{item.TypeCommit, item.TypeFile, item.TypeQA} {
				fmt.Fprintf(out, "  %-8s %d\n", t, byType[t])
			}
			names := make([]string, 0, len(repos))
			for name := range repos {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(out, "Repo %s: %d\n", name, repos[name])
			}
			return nil
		},
	}
}
