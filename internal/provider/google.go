package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/joss/taskpilot/pkg/llm"
)

const googleAPIURL = "https://generativelanguage.googleapis.com/v1beta/models"

// Google speaks the Gemini generateContent API.
type Google struct {
	apiKey  string
	baseURL string
	client  HTTPClient
}

func NewGoogle(apiKey string) *Google {
	return NewGoogleWithClient(apiKey, "", defaultClient())
}

func NewGoogleWithClient(apiKey, baseURL string, client HTTPClient) *Google {
	if baseURL == "" {
		baseURL = googleAPIURL
	}
	if client == nil {
		client = defaultClient()
	}
	return &Google{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (g *Google) ID() string { return "google" }

type googleRequest struct {
	Contents         []googleContent  `json:"contents"`
	GenerationConfig *googleGenConfig `json:"generationConfig,omitempty"`
}

type googleContent struct {
	Role  string       `json:"role"`
	Parts []googlePart `json:"parts"`
}

type googlePart struct {
	Text string `json:"text,omitempty"`
}

type googleGenConfig struct {
	MaxOutputTokens  int             `json:"maxOutputTokens,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	ResponseMimeType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   json.RawMessage `json:"responseSchema,omitempty"`
}

type googleResponse struct {
	Candidates []struct {
		Content struct {
			Parts []googlePart `json:"parts"`
			Role  string       `json:"role"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
	UsageMetadata *llm.Usage `json:"usageMetadata,omitempty"`
}

func (g *Google) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	cfg := &googleGenConfig{
		MaxOutputTokens: req.MaxOutputTokens,
		Temperature:     req.Temperature,
	}
	if req.Structured() {
		cfg.ResponseMimeType = "application/json"
		cfg.ResponseSchema = req.Schema
	}

	body := googleRequest{
		Contents: []googleContent{
			{Role: "user", Parts: []googlePart{{Text: req.Prompt}}},
		},
		GenerationConfig: cfg,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent", g.baseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &llm.ProviderError{Model: req.Model, Kind: llm.ErrTransient, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &llm.ProviderError{Model: req.Model, StatusCode: resp.StatusCode, Kind: llm.ErrTransient, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, llm.Classify(req.Model, resp.StatusCode, string(raw))
	}

	var gr googleResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return nil, &llm.ProviderError{Model: req.Model, StatusCode: resp.StatusCode, Kind: llm.ErrTransient, Err: fmt.Errorf("decode response: %w", err)}
	}

	if len(gr.Candidates) == 0 {
		msg := "no candidates"
		if gr.PromptFeedback != nil && gr.PromptFeedback.BlockReason != "" {
			msg = "prompt blocked: " + gr.PromptFeedback.BlockReason
		}
		return nil, &llm.ProviderError{Model: req.Model, StatusCode: resp.StatusCode, Kind: llm.ErrTransient, Message: msg}
	}

	var sb strings.Builder
	for _, part := range gr.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	text := sb.String()

	out := &llm.Response{Content: llm.Raw(text)}
	if gr.UsageMetadata != nil {
		out.Usage = *gr.UsageMetadata
	}
	if req.Structured() {
		trimmed := strings.TrimSpace(text)
		if json.Valid([]byte(trimmed)) {
			out.Content = llm.Parsed(json.RawMessage(trimmed), text)
		}
	}
	return out, nil
}

var _ llm.Backend = (*Google)(nil)
