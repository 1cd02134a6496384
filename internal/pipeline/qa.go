package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"
)

// maxQALineSize bounds one JSONL record.
const maxQALineSize = 4 << 20

// Interaction is a recorded question/answer exchange.
type Interaction struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Category  string    `json:"category,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Content returns the text embedded for the interaction.
func (i Interaction) Content() string {
	var b strings.Builder
	b.WriteString("Q: ")
	b.WriteString(strings.TrimSpace(i.Question))
	if a := strings.TrimSpace(i.Answer); a != "" {
		b.WriteString("\nA: ")
		b.WriteString(a)
	}
	return b.String()
}

// QASource lists interactions recorded after a point in time.
type QASource interface {
	// Since returns interactions with a timestamp after since, oldest first.
	// A zero since returns everything.
	Since(ctx context.Context, since time.Time) ([]Interaction, error)
}

// JSONLSource reads interactions from a JSON Lines file, one Interaction
// per line. A missing file yields no interactions.
type JSONLSource struct {
	Path string
}

// Since implements QASource.
func (s JSONLSource) Since(ctx context.Context, since time.Time) ([]Interaction, error) {
	f, err := os.Open(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", s.Path, err)
	}
	defer f.Close()

	var out []Interaction
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxQALineSize)
	line := 0
	for scanner.Scan() {
		line++
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var in Interaction
		if err := json.Unmarshal([]byte(text), &in); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", s.Path, line, err)
		}
		if in.ID == "" || in.SessionID == "" {
			return nil, fmt.Errorf("%s:%d: id and session_id are required", s.Path, line)
		}
		if !since.IsZero() && !in.Timestamp.After(since) {
			continue
		}
		out = append(out, in)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.Path, err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
