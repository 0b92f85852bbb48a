package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"snap-answer-server/src/configs"
	"snap-answer-server/src/core/image"
	"snap-answer-server/src/core/providers/vlllm"
	"snap-answer-server/src/core/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPayload = image.NewPayload([]byte{0xFF, 0xD8, 0xFF, 0xE0}, "image/jpeg")

func TestAnswerWithoutCredential(t *testing.T) {
	t.Setenv("API_KEY", "")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))

		var req OllamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llava:7b", req.Model)
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, []string{testPayload.Base64()}, req.Messages[0].Images)
		assert.Equal(t, vlllm.DefaultPrompt, req.Messages[0].Content)

		w.Write([]byte(`{"model":"llava:7b","message":{"role":"assistant","content":"It is a cat."},"done":true}`))
	}))
	defer server.Close()

	provider, err := vlllm.Create("ollama", configs.VLLMConfig{
		BaseURL:   server.URL,
		ModelName: "llava:7b",
	}, "", utils.NewLoggerWithWriter("error", nil))
	require.NoError(t, err)

	answer, err := provider.Answer(context.Background(), testPayload)
	require.NoError(t, err)
	assert.Equal(t, "It is a cat.", answer)
}

func TestAnswerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer empty" {
			w.Write([]byte(`{"message":{"role":"assistant","content":""},"done":true}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model \"llava:7b\" not found, try pulling it first"}`))
	}))
	defer server.Close()

	logger := utils.NewLoggerWithWriter("error", nil)

	provider, err := vlllm.Create("ollama", configs.VLLMConfig{BaseURL: server.URL, ModelName: "llava:7b", APIKey: "x"}, "", logger)
	require.NoError(t, err)
	_, err = provider.Answer(context.Background(), testPayload)
	var httpErr *vlllm.HttpError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusNotFound, httpErr.Status)
	assert.Contains(t, httpErr.Message, "not found")

	provider, err = vlllm.Create("ollama", configs.VLLMConfig{BaseURL: server.URL, ModelName: "llava:7b", APIKey: "empty"}, "", logger)
	require.NoError(t, err)
	_, err = provider.Answer(context.Background(), testPayload)
	var emptyErr *vlllm.EmptyResponseError
	assert.True(t, errors.As(err, &emptyErr))
}

func TestNewProviderRequiresModel(t *testing.T) {
	_, err := vlllm.Create("ollama", configs.VLLMConfig{}, "", utils.NewLoggerWithWriter("error", nil))
	assert.Error(t, err)
}
