// Package scrub redacts secrets from content before it is embedded.
//
// Detection uses the gitleaks default rule set. Each detected secret is
// replaced with "[REDACTED:<rule-id>]" so the embedding still carries the
// fact that a credential was present without carrying the credential.
package scrub

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Finding is one redacted secret. The secret value is not retained.
type Finding struct {
	RuleID string
	Line   int
}

// Result is the outcome of scrubbing one text.
type Result struct {
	Content  string
	Findings []Finding
}

type match struct {
	ruleID string
	secret string
	line   int
}

// Scrubber redacts secrets. It is safe for concurrent use.
type Scrubber struct {
	mu     sync.Mutex
	detect func(content string) []match
}

// New creates a Scrubber with the gitleaks default configuration.
func New() (*Scrubber, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("initializing gitleaks detector: %w", err)
	}
	return &Scrubber{
		detect: func(content string) []match {
			findings := detector.DetectString(content)
			out := make([]match, 0, len(findings))
			for _, f := range findings {
				out = append(out, match{ruleID: f.RuleID, secret: f.Secret, line: f.StartLine})
			}
			return out
		},
	}, nil
}

// Scrub returns content with every detected secret redacted.
func (s *Scrubber) Scrub(content string) Result {
	if content == "" {
		return Result{}
	}

	s.mu.Lock()
	matches := s.detect(content)
	s.mu.Unlock()
	if len(matches) == 0 {
		return Result{Content: content}
	}

	// Longest secrets first so a secret that contains another is replaced whole.
	sort.SliceStable(matches, func(i, j int) bool {
		return len(matches[i].secret) > len(matches[j].secret)
	})

	out := content
	findings := make([]Finding, 0, len(matches))
	for _, m := range matches {
		if m.secret == "" {
			continue
		}
		out = strings.ReplaceAll(out, m.secret, "[REDACTED:"+m.ruleID+"]")
		findings = append(findings, Finding{RuleID: m.ruleID, Line: m.line})
	}
	return Result{Content: out, Findings: findings}
}
