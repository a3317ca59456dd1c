package transform

import (
	"encoding/json"
	"fmt"
)

// Cohere-family rerank API: request {model, query, documents, top_n},
// response {results: [{index, relevance_score}]}. Jina's API shares the
// request shape but wraps the document text in the result.

type cohereRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      *int     `json:"top_n,omitempty"`
}

type cohereResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type cohereResponse struct {
	Results []cohereResult `json:"results"`
}

func coherePre(req Request) ([]byte, error) {
	body := cohereRequest{
		Model:     req.Model,
		Query:     req.Query,
		Documents: req.Documents,
	}
	if req.TopN > 0 {
		body.TopN = &req.TopN
	}
	return json.Marshal(body)
}

func coherePost(raw []byte) ([]Score, error) {
	var resp cohereResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding cohere response: %w", err)
	}
	scores := make([]Score, len(resp.Results))
	for i, res := range resp.Results {
		scores[i] = Score{Index: res.Index, Score: res.RelevanceScore}
	}
	return scores, nil
}

type jinaResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
	Document       *struct {
		Text string `json:"text"`
	} `json:"document,omitempty"`
}

type jinaResponse struct {
	Results []jinaResult `json:"results"`
}

func jinaPre(req Request) ([]byte, error) {
	// Same request family as cohere.
	return coherePre(req)
}

func jinaPost(raw []byte) ([]Score, error) {
	var resp jinaResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding jina response: %w", err)
	}
	scores := make([]Score, len(resp.Results))
	for i, res := range resp.Results {
		scores[i] = Score{Index: res.Index, Score: res.RelevanceScore}
	}
	return scores, nil
}

// Hugging Face text-embeddings-inference /rerank: request
// {query, texts, truncate}, response bare [{index, score}].

type teiRequest struct {
	Query    string   `json:"query"`
	Texts    []string `json:"texts"`
	Truncate bool     `json:"truncate"`
}

func teiPre(req Request) ([]byte, error) {
	return json.Marshal(teiRequest{
		Query:    req.Query,
		Texts:    req.Documents,
		Truncate: true,
	})
}

func teiPost(raw []byte) ([]Score, error) {
	var scores []Score
	if err := json.Unmarshal(raw, &scores); err != nil {
		return nil, fmt.Errorf("decoding tei response: %w", err)
	}
	return scores, nil
}

// Voyage AI rerank: request {model, query, documents, top_k}, response
// {data: [{index, relevance_score}]}.

type voyageaiRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopK      *int     `json:"top_k,omitempty"`
}

type voyageaiData struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type voyageaiResponse struct {
	Data []voyageaiData `json:"data"`
}

func voyageaiPre(req Request) ([]byte, error) {
	body := voyageaiRequest{
		Model:     req.Model,
		Query:     req.Query,
		Documents: req.Documents,
	}
	if req.TopN > 0 {
		body.TopK = &req.TopN
	}
	return json.Marshal(body)
}

func voyageaiPost(raw []byte) ([]Score, error) {
	var resp voyageaiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding voyageai response: %w", err)
	}
	scores := make([]Score, len(resp.Data))
	for i, d := range resp.Data {
		scores[i] = Score{Index: d.Index, Score: d.RelevanceScore}
	}
	return scores, nil
}

// Raw cross-encoder deployments: request {query, texts}, response a bare
// float array aligned to input order. The post-process synthesizes indices.

type scoresRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

func scoresPre(req Request) ([]byte, error) {
	return json.Marshal(scoresRequest{Query: req.Query, Texts: req.Documents})
}

func scoresPost(raw []byte) ([]Score, error) {
	var values []float64
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("decoding score array: %w", err)
	}
	scores := make([]Score, len(values))
	for i, v := range values {
		scores[i] = Score{Index: i, Score: v}
	}
	return scores, nil
}
