package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/txMaestro/web3safetykit/internal/config"
	pkgerrors "github.com/txMaestro/web3safetykit/internal/errors"
	"github.com/txMaestro/web3safetykit/internal/types"
)

// GeminiProvider dispatches AI summarization requests. Keeping the AI
// provider behind the gateway means it shares the same rate-limit and retry
// machinery as the explorer.
type GeminiProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewGeminiProvider creates the AI provider adapter
func NewGeminiProvider(cfg *config.GeminiConfig) *GeminiProvider {
	return &GeminiProvider{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		client:  newTransportClient(),
	}
}

// Name returns the provider tag
func (p *GeminiProvider) Name() types.Provider {
	return types.ProviderGemini
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// Do executes one AI call. The answer is the first candidate's text;
// content-filter payloads are permanent failures.
func (p *GeminiProvider) Do(ctx context.Context, requestData map[string]any) (string, error) {
	prompt, _ := requestData["prompt"].(string)
	if prompt == "" {
		return "", pkgerrors.Permanent("missing prompt in request data", nil)
	}

	payload, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", pkgerrors.Permanent("failed to encode AI request", err)
	}

	reqURL := fmt.Sprintf("%s?key=%s", p.baseURL, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return "", pkgerrors.Permanent("failed to build AI request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", pkgerrors.Transient("AI transport error", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", pkgerrors.Transient("failed to read AI response", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", pkgerrors.Transient(fmt.Sprintf("AI HTTP %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return "", pkgerrors.Permanent(fmt.Sprintf("AI HTTP %d: %s", resp.StatusCode, truncate(body, 200)), nil)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", pkgerrors.Permanent("unparseable AI response", err)
	}

	return extractGeminiText(&parsed)
}

// extractGeminiText pulls candidates[0].content.parts[0].text or fails on
// filtered payloads.
func extractGeminiText(parsed *geminiResponse) (string, error) {
	if parsed.PromptFeedback.BlockReason != "" {
		return "", pkgerrors.Permanent(fmt.Sprintf("AI content filtered: %s", parsed.PromptFeedback.BlockReason), nil)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", pkgerrors.Permanent("AI response has no candidates", nil)
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}
