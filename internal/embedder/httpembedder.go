package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cml-project/cml/internal/cmlerr"
)

// HTTPEmbedder calls an OpenAI-compatible /embeddings endpoint. No HTTP
// client library appears anywhere in the retrieved stack, so this uses
// net/http directly rather than reaching for one; everything else here
// (retry, error wrapping) follows the project's established patterns.
type HTTPEmbedder struct {
	endpoint   string
	model      string
	apiKey     string
	dimensions int
	client     *http.Client
}

// NewHTTPEmbedder constructs a client against endpoint (an /embeddings
// URL), requesting model and expecting dimensions-length vectors back.
func NewHTTPEmbedder(endpoint, model, apiKey string, dimensions int) *HTTPEmbedder {
	return &HTTPEmbedder{
		endpoint:   endpoint,
		model:      model,
		apiKey:     apiKey,
		dimensions: dimensions,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *HTTPEmbedder) Dimensions() int { return e.dimensions }

type embedRequest struct {
	Model string      `json:"model"`
	Input interface{} `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 15 * time.Second

	err := backoff.Retry(func() error {
		v, err := e.embedOnce(ctx, text)
		if err != nil {
			if errors.Is(err, cmlerr.ErrTransient) {
				return err
			}
			return backoff.Permanent(err)
		}
		vec = v
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, err
	}

	if len(vec) != e.dimensions {
		return nil, fmt.Errorf("%w: embedder returned %d dimensions, want %d", cmlerr.ErrEmbedder, len(vec), e.dimensions)
	}
	return normalizeL2(vec), nil
}

// EmbedBatch embeds texts in a single request, matching the documented
// embed_batch step of the outbox pipeline: one call, one failure domain
// for the whole batch (a single slow/unhealthy item fails everything
// rather than partially succeeding).
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var vecs [][]float32

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 15 * time.Second

	err := backoff.Retry(func() error {
		v, err := e.embedBatchOnce(ctx, texts)
		if err != nil {
			if errors.Is(err, cmlerr.ErrTransient) {
				return err
			}
			return backoff.Permanent(err)
		}
		vecs = v
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, err
	}

	for i, v := range vecs {
		if len(v) != e.dimensions {
			return nil, fmt.Errorf("%w: embedder returned %d dimensions for item %d, want %d", cmlerr.ErrEmbedder, len(v), i, e.dimensions)
		}
		vecs[i] = normalizeL2(v)
	}
	return vecs, nil
}

func (e *HTTPEmbedder) embedBatchOnce(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal embed batch request: %v", cmlerr.ErrEmbedder, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build embed batch request: %v", cmlerr.ErrEmbedder, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: embed batch request: %v", cmlerr.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: embedder returned %d", cmlerr.ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: embedder returned %d: %s", cmlerr.ErrEmbedder, resp.StatusCode, data)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode embed batch response: %v", cmlerr.ErrEmbedder, err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("%w: embed batch response had %d vectors, want %d", cmlerr.ErrEmbedder, len(parsed.Data), len(texts))
	}
	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

func (e *HTTPEmbedder) embedOnce(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal embed request: %v", cmlerr.ErrEmbedder, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build embed request: %v", cmlerr.ErrEmbedder, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: embed request: %v", cmlerr.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: embedder returned %d", cmlerr.ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: embedder returned %d: %s", cmlerr.ErrEmbedder, resp.StatusCode, data)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode embed response: %v", cmlerr.ErrEmbedder, err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("%w: embed response had no data", cmlerr.ErrEmbedder)
	}
	return parsed.Data[0].Embedding, nil
}
