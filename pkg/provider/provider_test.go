package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testImage = Image{Data: []byte("fake-image-bytes"), MimeType: "image/png"}

func TestNewMissingCredential(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	for _, kind := range []Kind{KindGemini, KindMistral, KindOpenRouter} {
		t.Run(string(kind), func(t *testing.T) {
			_, err := New(context.Background(), Config{Kind: kind, BaseURL: srv.URL, Model: "m"})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMissingCredential)
			assert.Contains(t, err.Error(), string(kind))
		})
	}
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Config{Kind: "dalle"})
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = ParseKind("DALLE")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	k, err := ParseKind(" Ollama ")
	require.NoError(t, err)
	assert.Equal(t, KindOllama, k)
}

func TestOpenRouterRequiresModel(t *testing.T) {
	_, err := New(context.Background(), Config{Kind: KindOpenRouter, APIKey: "k"})
	assert.ErrorIs(t, err, ErrMissingModel)
}

func TestOllamaDescribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		var req struct {
			Model    string `json:"model"`
			Stream   *bool  `json:"stream"`
			Messages []struct {
				Role    string   `json:"role"`
				Content string   `json:"content"`
				Images  []string `json:"images"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llava", req.Model)
		require.NotNil(t, req.Stream)
		assert.False(t, *req.Stream)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		assert.Equal(t, "describe", req.Messages[0].Content)
		assert.Equal(t, []string{testImage.Base64()}, req.Messages[0].Images)
		_, _ = w.Write([]byte(`{"model":"llava","message":{"role":"assistant","content":"Description: ok"},"done":true}` + "\n"))
	}))
	defer srv.Close()

	d, err := New(context.Background(), Config{Kind: KindOllama, BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "ollama", d.Name())

	out, err := d.Describe(context.Background(), testImage, "describe")
	require.NoError(t, err)
	assert.Equal(t, "Description: ok", out)
}

func TestOllamaDefaults(t *testing.T) {
	o, err := NewOllama(context.Background(), Config{})
	require.NoError(t, err)
	assert.Equal(t, "llava", o.Model())
	assert.Equal(t, "http://localhost:11434", DefaultOllamaURL)
}

func TestGeminiDescribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-1.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-goog-api-key"))

		var req struct {
			Contents []struct {
				Parts []struct {
					Text       string `json:"text"`
					InlineData *struct {
						MimeType string `json:"mimeType"`
						Data     string `json:"data"`
					} `json:"inlineData"`
				} `json:"parts"`
			} `json:"contents"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contents, 1)
		require.Len(t, req.Contents[0].Parts, 2)
		assert.Equal(t, "prompt", req.Contents[0].Parts[0].Text)
		require.NotNil(t, req.Contents[0].Parts[1].InlineData)
		assert.Equal(t, "image/png", req.Contents[0].Parts[1].InlineData.MimeType)
		assert.Equal(t, testImage.Base64(), req.Contents[0].Parts[1].InlineData.Data)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"Description: a"},{"text":" cat"}]}}]}`))
	}))
	defer srv.Close()

	d, err := New(context.Background(), Config{Kind: KindGemini, APIKey: "secret", BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "gemini", d.Name())

	out, err := d.Describe(context.Background(), testImage, "prompt")
	require.NoError(t, err)
	assert.Equal(t, "Description: a cat", out)
}

func TestProviderErrorNamesProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		if r.URL.Path == "/api/chat" {
			_, _ = w.Write([]byte(`{"error":"quota exceeded"}`))
			return
		}
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	tests := []struct {
		cfg    Config
		status int
	}{
		{Config{Kind: KindGemini, APIKey: "k", BaseURL: srv.URL}, http.StatusTooManyRequests},
		{Config{Kind: KindOllama, BaseURL: srv.URL}, http.StatusTooManyRequests},
		{Config{Kind: KindMistral, APIKey: "k", BaseURL: srv.URL}, 0},
		{Config{Kind: KindOpenRouter, APIKey: "k", BaseURL: srv.URL, Model: "vision/free"}, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.cfg.Kind), func(t *testing.T) {
			d, err := New(context.Background(), tt.cfg)
			require.NoError(t, err)

			_, err = d.Describe(context.Background(), testImage, "p")
			require.Error(t, err)
			var pErr *Error
			require.True(t, errors.As(err, &pErr))
			assert.Equal(t, string(tt.cfg.Kind), pErr.Provider)
			assert.Contains(t, err.Error(), string(tt.cfg.Kind))
			if tt.status != 0 {
				assert.Equal(t, tt.status, pErr.StatusCode)
			}
		})
	}
}

func TestProviderNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	d, err := New(context.Background(), Config{Kind: KindOllama, BaseURL: url})
	require.NoError(t, err)
	_, err = d.Describe(context.Background(), testImage, "p")
	var pErr *Error
	require.True(t, errors.As(err, &pErr))
	assert.Equal(t, "ollama", pErr.Provider)
	assert.Zero(t, pErr.StatusCode)
}

func chatCompletionServer(t *testing.T, content string, seen *atomic.Value) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if seen != nil {
			seen.Store(body)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   body["model"],
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
			"usage": map[string]any{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
		})
	}))
}

func TestMistralDescribe(t *testing.T) {
	var seen atomic.Value
	srv := chatCompletionServer(t, "Description: bridge\nClassification: Architecture", &seen)
	defer srv.Close()

	d, err := New(context.Background(), Config{Kind: KindMistral, APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "mistral", d.Name())

	out, err := d.Describe(context.Background(), testImage, "describe")
	require.NoError(t, err)
	assert.Equal(t, "Description: bridge\nClassification: Architecture", out)

	body := seen.Load().(map[string]any)
	assert.Equal(t, "pixtral-12b", body["model"])
	raw, _ := json.Marshal(body["messages"])
	assert.Contains(t, string(raw), "image_url")
	assert.Contains(t, string(raw), "data:image/png;base64,")
}

func TestOpenRouterUsesSelectedModel(t *testing.T) {
	var seen atomic.Value
	srv := chatCompletionServer(t, "Description: x", &seen)
	defer srv.Close()

	d, err := New(context.Background(), Config{Kind: KindOpenRouter, APIKey: "k", BaseURL: srv.URL, Model: "google/gemma-3-27b-it:free"})
	require.NoError(t, err)

	_, err = d.Describe(context.Background(), testImage, "describe")
	require.NoError(t, err)
	assert.Equal(t, "google/gemma-3-27b-it:free", seen.Load().(map[string]any)["model"])
}

func TestListFreeVisionModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":[
			{"id":"free/vision","pricing":{"prompt":"0","completion":"0"},"architecture":{"input_modalities":["text","image"]}},
			{"id":"free/vision-img0","pricing":{"prompt":"0","completion":"0","image":"0"},"architecture":{"input_modalities":["image"]}},
			{"id":"paid/vision","pricing":{"prompt":"0.000001","completion":"0"},"architecture":{"input_modalities":["image"]}},
			{"id":"paid/image","pricing":{"prompt":"0","completion":"0","image":"0.01"},"architecture":{"input_modalities":["image"]}},
			{"id":"free/text","pricing":{"prompt":"0","completion":"0"},"architecture":{"input_modalities":["text"]}}
		]}`))
	}))
	defer srv.Close()

	ids, err := ListFreeVisionModels(context.Background(), Config{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, []string{"free/vision", "free/vision-img0"}, ids)

	_, err = ListFreeVisionModels(context.Background(), Config{BaseURL: srv.URL})
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[]}`))
		case "/v1beta/models":
			if r.Header.Get("x-goog-api-key") != "good" {
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":{"code":403,"message":"invalid key","status":"PERMISSION_DENIED"}}`))
				return
			}
			_, _ = w.Write([]byte(`{"models":[]}`))
		case "/models":
			if r.Header.Get("Authorization") != "Bearer good" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"data":[]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	assert.NoError(t, Check(context.Background(), Config{Kind: KindOllama, BaseURL: srv.URL}))
	assert.NoError(t, Check(context.Background(), Config{Kind: KindMistral, APIKey: "good", BaseURL: srv.URL}))
	assert.NoError(t, Check(context.Background(), Config{Kind: KindGemini, APIKey: "good", BaseURL: srv.URL}))

	err := Check(context.Background(), Config{Kind: KindMistral, APIKey: "bad", BaseURL: srv.URL})
	var pErr *Error
	require.True(t, errors.As(err, &pErr))
	assert.Equal(t, http.StatusUnauthorized, pErr.StatusCode)

	err = Check(context.Background(), Config{Kind: KindGemini, APIKey: "bad", BaseURL: srv.URL})
	require.True(t, errors.As(err, &pErr))
	assert.Equal(t, "gemini", pErr.Provider)
	assert.Equal(t, http.StatusForbidden, pErr.StatusCode)
}

type stubDescriber struct{ calls int32 }

func (s *stubDescriber) Name() string { return "stub" }

func (s *stubDescriber) Describe(ctx context.Context, img Image, prompt string) (string, error) {
	atomic.AddInt32(&s.calls, 1)
	return "ok", nil
}

func TestWithRateLimit(t *testing.T) {
	stub := &stubDescriber{}
	assert.Same(t, Describer(stub), WithRateLimit(stub, 0))

	d := WithRateLimit(stub, 20)
	assert.Equal(t, "stub", d.Name())

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := d.Describe(context.Background(), testImage, "p")
		require.NoError(t, err)
	}
	// 首个令牌立即可用，其余两个各需等待约 50ms
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&stub.calls))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Describe(ctx, testImage, "p")
	var pErr *Error
	require.True(t, errors.As(err, &pErr))
	assert.Equal(t, "stub", pErr.Provider)
}
