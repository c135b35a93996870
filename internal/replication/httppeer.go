package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cml-project/cml/internal/types"
)

// HTTPPeer is a Peer backed by a remote cmlctl's get_events_since_rowid
// endpoint, JSON-over-HTTP in the same style as the teacher's
// internal/rpc/http_client.go.
type HTTPPeer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPPeer(baseURL string) *HTTPPeer {
	return &HTTPPeer{baseURL: baseURL, client: &http.Client{}}
}

type getEventsSinceRowidRequest struct {
	Cursor int64 `json:"cursor"`
	Limit  int   `json:"limit"`
}

type getEventsSinceRowidResponse struct {
	Events []types.RowidEvent `json:"events"`
}

func (p *HTTPPeer) GetEventsSinceRowid(ctx context.Context, cursor int64, limit int) ([]types.RowidEvent, error) {
	body, err := json.Marshal(getEventsSinceRowidRequest{Cursor: cursor, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("replication: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/cml.v1.Replication/GetEventsSinceRowid", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("replication: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("replication: request peer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("replication: peer returned status %d", resp.StatusCode)
	}

	var out getEventsSinceRowidResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("replication: decode response: %w", err)
	}
	return out.Events, nil
}
