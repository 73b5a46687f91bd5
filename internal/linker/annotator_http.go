package linker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPAnnotator calls a remote annotation service over JSON.
type HTTPAnnotator struct {
	baseURL string
	client  *http.Client
}

func NewHTTPAnnotator(baseURL string) *HTTPAnnotator {
	return &HTTPAnnotator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type annotateRequest struct {
	Doc   string `json:"doc"`
	Spans []Span `json:"spans"`
}

type annotateResponse struct {
	Results [][]Concept `json:"results"`
}

func (a *HTTPAnnotator) Annotate(ctx context.Context, doc string, spans []Span) ([][]Concept, error) {
	body, err := json.Marshal(annotateRequest{Doc: doc, Spans: spans})
	if err != nil {
		return nil, fmt.Errorf("marshal annotate request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/annotate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build annotate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("annotate call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("annotate call returned %d", resp.StatusCode)
	}

	var out annotateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode annotate response: %w", err)
	}
	if len(out.Results) != len(spans) {
		return nil, fmt.Errorf("annotate returned %d results for %d spans", len(out.Results), len(spans))
	}
	return out.Results, nil
}

func (a *HTTPAnnotator) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("annotator health returned %d", resp.StatusCode)
	}
	return nil
}
