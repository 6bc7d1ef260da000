// Package ai wraps the external text-completion endpoint.
//
// Each call is one best-effort round trip: no retry, no rate limiting.
// Credentials are resolved through a CredentialProvider chain so the
// gateway itself never touches the environment or the terminal.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultEndpoint = "https://generativelanguage.googleapis.com"
	defaultModel    = "gemini-2.5-flash"
)

// ErrNoCredential is returned when no provider in the chain yields a key.
var ErrNoCredential = errors.New("ai: no API key configured")

// RequestError carries the upstream status and message of a failed call.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ai: request failed with status %d", e.Status)
	}
	return fmt.Sprintf("ai: request failed (%d): %s", e.Status, e.Message)
}

// Gateway sends prompts to the generative-language endpoint.
type Gateway struct {
	endpoint string
	model    string
	creds    CredentialProvider
	http     *http.Client
}

// NewGateway creates a gateway. An empty endpoint or model selects the
// defaults; creds must not be nil.
func NewGateway(endpoint, model string, creds CredentialProvider) *Gateway {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if model == "" {
		model = defaultModel
	}
	return &Gateway{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		creds:    creds,
		http:     &http.Client{Timeout: 60 * time.Second},
	}
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one prompt and returns the candidate text.
func (g *Gateway) Complete(ctx context.Context, prompt string) (string, error) {
	key, err := g.creds.APIKey()
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("ai: encode request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", g.endpoint, g.model, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("ai: transport: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("ai: read response: %w", err)
	}

	var result generateResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return "", &RequestError{Status: resp.StatusCode, Message: "invalid response body"}
	}
	if result.Error != nil {
		return "", &RequestError{Status: resp.StatusCode, Message: result.Error.Message}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &RequestError{Status: resp.StatusCode}
	}
	if len(result.Candidates) == 0 {
		return "", &RequestError{Status: resp.StatusCode, Message: "no candidates in response"}
	}

	var parts []string
	for _, p := range result.Candidates[0].Content.Parts {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, ""), nil
}
