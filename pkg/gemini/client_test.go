package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyErr(t *testing.T) {
	tests := []struct {
		name          string
		in            error
		wantTransient bool
	}{
		{name: "api_429", in: genai.APIError{Code: 429}, wantTransient: true},
		{name: "api_503", in: genai.APIError{Code: 503}, wantTransient: true},
		{name: "api_400", in: genai.APIError{Code: 400}, wantTransient: false},
		{name: "net_timeout", in: timeoutErr{}, wantTransient: true},
		{name: "plain", in: errors.New("boom"), wantTransient: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantTransient, IsTransient(classifyErr(tt.in)))
		})
	}
}

func TestNewClient_RequiresKeyAndModel(t *testing.T) {
	_, err := NewClient(context.Background(), Config{Model: "gemini-2.5-flash"})
	require.Error(t, err)
	_, err = NewClient(context.Background(), Config{APIKey: "k"})
	require.Error(t, err)
}

func TestGenerateJSON(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.Contains(r.URL.Path, "gemini-2.5-flash:generateContent"), r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": `{"approach":"hybrid"}`}},
				},
			}},
			"usageMetadata": map[string]any{"promptTokenCount": 12, "candidatesTokenCount": 4},
		})
	}))
	defer srv.Close()

	c, err := NewClient(context.Background(), Config{APIKey: "k", Model: "gemini-2.5-flash", BaseURL: srv.URL})
	require.NoError(t, err)

	resp, err := c.GenerateJSON(context.Background(), JSONRequest{
		System:      "plan",
		Prompt:      "entity",
		Schema:      &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{"approach": {Type: genai.TypeString}}},
		Temperature: genai.Ptr[float32](0.1),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"approach":"hybrid"}`, resp.Text)
	assert.Equal(t, 12, resp.InputTokens)
	assert.Equal(t, 4, resp.OutputTokens)

	gen, ok := body["generationConfig"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "application/json", gen["responseMimeType"])
	assert.NotNil(t, body["systemInstruction"])
}

func TestGenerateJSON_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 429, "message": "quota", "status": "RESOURCE_EXHAUSTED"},
		})
	}))
	defer srv.Close()

	c, err := NewClient(context.Background(), Config{APIKey: "k", Model: "gemini-2.5-flash", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.GenerateJSON(context.Background(), JSONRequest{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}
