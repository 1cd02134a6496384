package item

import (
	"encoding/json"
	"fmt"
)

// wireItem is the serialized form of an Item. Metadata is a flat object
// whose shape depends on Type.
type wireItem struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Content   string          `json:"content"`
	Embedding []float32       `json:"embedding"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

type commitWire struct {
	CommitMeta
	Extra map[string]string `json:"extra,omitempty"`
}

type fileWire struct {
	FileMeta
	Extra map[string]string `json:"extra,omitempty"`
}

type qaWire struct {
	QAMeta
	Extra map[string]string `json:"extra,omitempty"`
}

type extraWire struct {
	Extra map[string]string `json:"extra,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (it Item) MarshalJSON() ([]byte, error) {
	var meta interface{}
	switch {
	case it.Type == TypeCommit && it.Commit != nil:
		meta = commitWire{CommitMeta: *it.Commit, Extra: it.Extra}
	case it.Type == TypeFile && it.File != nil:
		meta = fileWire{FileMeta: *it.File, Extra: it.Extra}
	case it.Type == TypeQA && it.QA != nil:
		meta = qaWire{QAMeta: *it.QA, Extra: it.Extra}
	default:
		meta = extraWire{Extra: it.Extra}
	}

	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata for %s: %w", it.ID, err)
	}

	embedding := it.Embedding
	if embedding == nil {
		embedding = []float32{}
	}

	return json.Marshal(wireItem{
		ID:        it.ID,
		Type:      it.Type,
		Content:   it.Content,
		Embedding: embedding,
		Metadata:  raw,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (it *Item) UnmarshalJSON(data []byte) error {
	var w wireItem
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*it = Item{
		ID:        w.ID,
		Type:      w.Type,
		Content:   w.Content,
		Embedding: w.Embedding,
	}
	if len(w.Metadata) == 0 || string(w.Metadata) == "null" {
		return nil
	}

	switch w.Type {
	case TypeCommit:
		var m commitWire
		if err := json.Unmarshal(w.Metadata, &m); err != nil {
			return fmt.Errorf("decoding commit metadata for %s: %w", w.ID, err)
		}
		it.Commit = &m.CommitMeta
		it.Extra = m.Extra
	case TypeFile:
		var m fileWire
		if err := json.Unmarshal(w.Metadata, &m); err != nil {
			return fmt.Errorf("decoding file metadata for %s: %w", w.ID, err)
		}
		it.File = &m.FileMeta
		it.Extra = m.Extra
	case TypeQA:
		var m qaWire
		if err := json.Unmarshal(w.Metadata, &m); err != nil {
			return fmt.Errorf("decoding qa metadata for %s: %w", w.ID, err)
		}
		it.QA = &m.QAMeta
		it.Extra = m.Extra
	default:
		var m extraWire
		if err := json.Unmarshal(w.Metadata, &m); err != nil {
			return fmt.Errorf("decoding metadata for %s: %w", w.ID, err)
		}
		it.Extra = m.Extra
	}
	return nil
}
