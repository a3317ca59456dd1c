// Package transform converts between rerankd's internal scoring shape and
// provider-specific wire formats.
//
// A connector names one pre-process and one post-process transform. The
// pre-process builds the provider request body from a query and an ordered
// document list; the post-process parses the provider response into ordered
// (index, score) pairs. Transforms are pure functions held in a registry;
// there is no embedded scripting.
package transform

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownTransform indicates a transform name with no registration.
var ErrUnknownTransform = errors.New("unknown transform")

// Score is one scored document. Index refers to the position of the
// document in the submitted batch.
type Score struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Request is the provider-agnostic input to a pre-process transform.
type Request struct {
	Query     string
	Documents []string

	// Model is the provider-side model name. Empty for single-model
	// endpoints such as a dedicated TEI deployment.
	Model string

	// TopN limits how many results the provider returns. Zero requests
	// scores for every document, which rerankd requires; transforms omit
	// the field when zero.
	TopN int
}

// PreProcess builds a provider request body. It must preserve document
// order and count: document i in the request corresponds to index i in the
// provider's response.
type PreProcess func(req Request) ([]byte, error)

// PostProcess parses a provider response body into (index, score) pairs in
// the order the provider returned them.
type PostProcess func(raw []byte) ([]Score, error)

// Registry holds named transforms. Built-in provider transforms are
// registered by Default; callers may add their own.
type Registry struct {
	mu   sync.RWMutex
	pre  map[string]PreProcess
	post map[string]PostProcess
}

// NewRegistry returns an empty transform registry.
func NewRegistry() *Registry {
	return &Registry{
		pre:  make(map[string]PreProcess),
		post: make(map[string]PostProcess),
	}
}

// Default returns a registry with all built-in provider transforms.
func Default() *Registry {
	r := NewRegistry()
	r.Register("cohere", coherePre, coherePost)
	r.Register("jina", jinaPre, jinaPost)
	r.Register("tei", teiPre, teiPost)
	r.Register("voyageai", voyageaiPre, voyageaiPost)
	r.Register("scores", scoresPre, scoresPost)
	return r
}

// Register adds a transform pair under name, replacing any previous
// registration. Either function may be nil to register only one side.
func (r *Registry) Register(name string, pre PreProcess, post PostProcess) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pre != nil {
		r.pre[name] = pre
	}
	if post != nil {
		r.post[name] = post
	}
}

// Pre returns the pre-process transform registered under name.
func (r *Registry) Pre(name string) (PreProcess, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.pre[name]
	if !ok {
		return nil, fmt.Errorf("%w: pre-process %q", ErrUnknownTransform, name)
	}
	return fn, nil
}

// Post returns the post-process transform registered under name.
func (r *Registry) Post(name string) (PostProcess, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.post[name]
	if !ok {
		return nil, fmt.Errorf("%w: post-process %q", ErrUnknownTransform, name)
	}
	return fn, nil
}

// Names returns the sorted names with at least one side registered.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{}, len(r.pre)+len(r.post))
	for name := range r.pre {
		seen[name] = struct{}{}
	}
	for name := range r.post {
		seen[name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
