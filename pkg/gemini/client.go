// Package gemini wraps the Google Gemini API for structured JSON generation.
package gemini

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/rotisserie/eris"
	"google.golang.org/genai"
)

// Client generates JSON constrained by a response schema.
type Client interface {
	GenerateJSON(ctx context.Context, req JSONRequest) (*JSONResponse, error)
}

// JSONRequest is one structured-output generation.
type JSONRequest struct {
	System      string
	Prompt      string
	Schema      *genai.Schema
	Temperature *float32
}

// JSONResponse carries the raw JSON text and token usage.
type JSONResponse struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Config configures the client.
type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL.
	BaseURL string
}

// TransientError marks a rate-limit, server, or temporary network failure.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

type sdkClient struct {
	client *genai.Client
	model  string
}

// NewClient creates a Gemini client.
func NewClient(ctx context.Context, cfg Config) (Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, eris.New("gemini: api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, eris.New("gemini: model is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: new client")
	}
	return &sdkClient{client: client, model: strings.TrimSpace(cfg.Model)}, nil
}

func (c *sdkClient) GenerateJSON(ctx context.Context, req JSONRequest) (*JSONResponse, error) {
	cfg := &genai.GenerateContentConfig{
		CandidateCount:   1,
		ResponseMIMEType: "application/json",
		ResponseSchema:   req.Schema,
		Temperature:      req.Temperature,
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return nil, eris.Wrap(classifyErr(err), "gemini: generate content")
	}

	out := &JSONResponse{Text: resp.Text(), Model: c.model}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if strings.TrimSpace(out.Text) == "" {
		return nil, eris.New("gemini: empty response")
	}
	return out, nil
}

func classifyErr(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code/100 == 5 {
			return &TransientError{Err: err}
		}
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TransientError{Err: err}
	}
	return err
}
