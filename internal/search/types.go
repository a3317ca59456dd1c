// Package search defines the wire types exchanged with the host search
// engine: the raw request envelope handed to a pipeline and the hit list
// the pipeline reorders.
package search

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Request is the raw search request envelope as received by the host
// engine. It is kept as raw JSON because pipeline processors address into
// it with path expressions (query text, ext blocks) rather than binding it
// to a fixed schema.
type Request struct {
	Body json.RawMessage
}

// UnmarshalJSON stores the raw envelope bytes verbatim.
func (r *Request) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid request envelope")
	}
	r.Body = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON returns the raw envelope bytes.
func (r Request) MarshalJSON() ([]byte, error) {
	if len(r.Body) == 0 {
		return []byte("null"), nil
	}
	return r.Body, nil
}

// Ext resolves a path expression inside the request's ext block.
// The path is relative to "ext", e.g. Ext("rerank.query_context").
func (r *Request) Ext(path string) gjson.Result {
	return gjson.GetBytes(r.Body, "ext."+path)
}

// Get resolves a path expression against the full envelope.
func (r *Request) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}

// Hit is a single search result in the engine's response shape.
type Hit struct {
	ID     string          `json:"_id"`
	Score  float64         `json:"_score"`
	Source json.RawMessage `json:"_source,omitempty"`
	Fields map[string]any  `json:"fields,omitempty"`
}

// Hits is the hit block of a search response.
type Hits struct {
	Total    int     `json:"total"`
	MaxScore float64 `json:"max_score"`
	Hits     []Hit   `json:"hits"`
}

// Response is the search response a pipeline processes. Took is in
// milliseconds, matching the engine's surface.
type Response struct {
	Took     int64 `json:"took"`
	TimedOut bool  `json:"timed_out"`
	Hits     Hits  `json:"hits"`
}

// Clone returns a deep copy of the response. Pipeline processors mutate
// the copy so an aborted pipeline leaves the caller's response untouched.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := &Response{
		Took:     r.Took,
		TimedOut: r.TimedOut,
		Hits: Hits{
			Total:    r.Hits.Total,
			MaxScore: r.Hits.MaxScore,
		},
	}
	if r.Hits.Hits != nil {
		out.Hits.Hits = make([]Hit, len(r.Hits.Hits))
		for i, h := range r.Hits.Hits {
			out.Hits.Hits[i] = h.clone()
		}
	}
	return out
}

func (h Hit) clone() Hit {
	c := Hit{ID: h.ID, Score: h.Score}
	if h.Source != nil {
		c.Source = append(json.RawMessage(nil), h.Source...)
	}
	if h.Fields != nil {
		c.Fields = make(map[string]any, len(h.Fields))
		for k, v := range h.Fields {
			c.Fields[k] = v
		}
	}
	return c
}
