package scrape

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/discovery-cli/internal/resilience"
	"github.com/sells-group/discovery-cli/pkg/jina"
)

func readResponse(content string) *jina.ReadResponse {
	return &jina.ReadResponse{Code: 200, Data: jina.ReadData{Title: "Acme", URL: "https://acme.example", Content: content}}
}

func TestJinaAdapter_Success(t *testing.T) {
	client := &mockJina{}
	body := strings.Repeat("Acme Plumbing contact office@acme.example ", 5)
	client.On("Read", mock.Anything, "https://acme.example").Return(readResponse(body), nil).Once()

	a := NewJinaAdapter(client, time.Millisecond)
	result, err := a.Scrape(context.Background(), "https://acme.example")
	require.NoError(t, err)
	assert.Equal(t, "jina", result.Source)
	assert.Equal(t, body, result.Page.Text)
	assert.Empty(t, result.Page.HTML)
	client.AssertExpectations(t)
}

func TestJinaAdapter_WaitsForDynamicContent(t *testing.T) {
	client := &mockJina{}
	client.On("Read", mock.Anything, "https://acme.example").Return(readResponse("Loading..."), nil).Once()
	client.On("Read", mock.Anything, "https://acme.example").Return(readResponse(strings.Repeat("rendered content ", 10)), nil).Once()

	a := NewJinaAdapter(client, time.Millisecond)
	result, err := a.Scrape(context.Background(), "https://acme.example")
	require.NoError(t, err)
	assert.Contains(t, result.Page.Text, "rendered content")
	client.AssertNumberOfCalls(t, "Read", 2)
}

func TestJinaAdapter_GivesUpAfterBoundedWaits(t *testing.T) {
	client := &mockJina{}
	client.On("Read", mock.Anything, "https://acme.example").Return(readResponse("Just a moment..."), nil)

	a := NewJinaAdapter(client, time.Millisecond)
	_, err := a.Scrape(context.Background(), "https://acme.example")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	client.AssertNumberOfCalls(t, "Read", maxRenderAttempts)
}

func TestJinaAdapter_ErrorNotRetried(t *testing.T) {
	client := &mockJina{}
	client.On("Read", mock.Anything, "https://acme.example").Return(nil, &jina.StatusError{Code: 502}).Once()

	a := NewJinaAdapter(client, time.Millisecond)
	_, err := a.Scrape(context.Background(), "https://acme.example")
	require.Error(t, err)
	var te *resilience.TransientError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 502, te.StatusCode)
	client.AssertNumberOfCalls(t, "Read", 1)
}

func TestJinaAdapter_BreakerOpens(t *testing.T) {
	client := &mockJina{}
	client.On("Read", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset by peer"))

	a := NewJinaAdapter(client, time.Millisecond)
	for i := 0; i < 3; i++ {
		_, _ = a.Scrape(context.Background(), "https://acme.example")
	}
	assert.False(t, a.Supports("https://acme.example"))
}

func TestNeedsRender(t *testing.T) {
	t.Parallel()

	assert.True(t, needsRender(nil))
	assert.True(t, needsRender(&jina.ReadResponse{Code: 451}))
	assert.True(t, needsRender(readResponse("short")))
	assert.True(t, needsRender(readResponse("Please enable cookies. "+strings.Repeat("x", 100))))
	assert.False(t, needsRender(readResponse(strings.Repeat("real page text ", 20))))
}
