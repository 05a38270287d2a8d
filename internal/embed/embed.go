// Package embed defines the embedding collaborator interface and the
// OpenAI-compatible HTTP provider used to vectorize changed blocks.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Provider generates vector embeddings for batches of texts.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// ProviderError wraps a failure from the embedding backend. Nothing has
// been persisted when enrichment fails, so callers may retry the whole run.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string { return fmt.Sprintf("embed: provider: %v", e.Err) }
func (e *ProviderError) Unwrap() error { return e.Err }

// OpenAI calls an OpenAI-compatible embeddings endpoint.
type OpenAI struct {
	apiKey     string
	model      string
	endpoint   string
	dimension  int
	httpClient *http.Client
}

// NewOpenAI creates a provider for the given model. An empty endpoint uses
// the public OpenAI API.
func NewOpenAI(apiKey, model, endpoint string) *OpenAI {
	dimension := 1536
	if model == "text-embedding-3-large" {
		dimension = 3072
	}
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1/embeddings"
	}
	return &OpenAI{
		apiKey:    apiKey,
		model:     model,
		endpoint:  endpoint,
		dimension: dimension,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Dimension returns the vector width the model produces.
func (p *OpenAI) Dimension() int { return p.dimension }

// Embed sends one batch of texts and returns one vector per text, in order.
func (p *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(map[string]interface{}{
		"input": texts,
		"model": p.model,
	})
	if err != nil {
		return nil, &ProviderError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, &ProviderError{Err: fmt.Errorf("status %d: %s", resp.StatusCode, raw)}
	}

	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ProviderError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(result.Data) != len(texts) {
		return nil, &ProviderError{Err: fmt.Errorf("got %d embeddings for %d texts", len(result.Data), len(texts))}
	}

	out := make([][]float32, len(result.Data))
	for i, d := range result.Data {
		out[i] = d.Embedding
	}
	return out, nil
}
