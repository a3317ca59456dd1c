// Package rerank reorders a ranked search batch using relevance scores
// from a remote model.
package rerank

import (
	"encoding/json"
)

// Hit is one search result inside a rerank batch. Source holds the raw
// document body; document text for scoring is extracted from it by field
// path.
type Hit struct {
	ID       string
	Score    float64
	Position int
	Source   json.RawMessage
}

// Batch is an ordered hit list plus the raw request envelope that
// produced it. A batch is owned by a single rerank invocation and never
// shared across concurrent requests.
type Batch struct {
	Envelope json.RawMessage
	Hits     []Hit
}

// Clone deep-copies the batch. The processor mutates only clones so a
// failed rerank leaves the caller's batch usable as fallback.
func (b *Batch) Clone() *Batch {
	if b == nil {
		return nil
	}
	out := &Batch{}
	if b.Envelope != nil {
		out.Envelope = append(json.RawMessage(nil), b.Envelope...)
	}
	if b.Hits != nil {
		out.Hits = make([]Hit, len(b.Hits))
		for i, h := range b.Hits {
			out.Hits[i] = h
			if h.Source != nil {
				out.Hits[i].Source = append(json.RawMessage(nil), h.Source...)
			}
		}
	}
	return out
}
