package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config holds configuration for the TEI embedding service.
type Config struct {
	// BaseURL of a text-embeddings-inference server.
	BaseURL string

	// Model served at BaseURL. Only used for reporting.
	Model string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Timeout bounds each request. Defaults to 30s.
	Timeout time.Duration

	// MaxBatch is the largest number of inputs sent in one request. TEI
	// rejects batches above its --max-client-batch-size, 32 by default.
	MaxBatch int
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Timeout < 0 || c.MaxBatch < 0 {
		return fmt.Errorf("%w: timeout and max batch cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// Service calls the /embed endpoint of a TEI server.
type Service struct {
	config Config
	client *http.Client
}

// NewService creates a TEI client.
func NewService(config Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxBatch == 0 {
		config.MaxBatch = 32
	}
	config.BaseURL = strings.TrimSuffix(config.BaseURL, "/")
	return &Service{config: config, client: &http.Client{Timeout: config.Timeout}}, nil
}

type embedRequest struct {
	Inputs   []string `json:"inputs"`
	Truncate bool     `json:"truncate"`
}

// EmbedDocuments embeds texts in batches of at most MaxBatch inputs.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += s.config.MaxBatch {
		batch := texts[start:min(start+s.config.MaxBatch, len(texts))]
		vectors, err := s.embed(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(batch))
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// EmbedQuery embeds a single query.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vectors, err := s.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: got %d vectors for one query", ErrEmbeddingFailed, len(vectors))
	}
	return vectors[0], nil
}

func (s *Service) embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(embedRequest{Inputs: inputs, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %s returned %d: %s", ErrEmbeddingFailed, s.config.Model, resp.StatusCode, bytes.TrimSpace(msg))
	}
	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrEmbeddingFailed, err)
	}
	return vectors, nil
}
