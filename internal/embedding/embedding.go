// Package embedding provides optional embedding providers for the
// semantic ranking blend. When no provider is configured the store runs
// on keyword ranking alone; nothing here is a hard dependency.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"time"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dims() int
}

// Cosine computes cosine similarity between two vectors. Mismatched or
// zero-length inputs score 0.
func Cosine(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// postJSON sends a JSON request and decodes a JSON response, surfacing
// non-200 bodies in the error.
func postJSON(ctx context.Context, client *http.Client, url, bearer string, reqBody, respBody any) error {
	b, _ := json.Marshal(reqBody)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("embedding provider error %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(respBody)
}

// --- Ollama provider ---

// Ollama embeds text through a local Ollama instance.
type Ollama struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client
}

// NewOllama creates an embedder against Ollama's embeddings API.
// Known models: nomic-embed-text (768 dims), all-minilm (384 dims).
func NewOllama(model string) *Ollama {
	baseURL := os.Getenv("OLLAMA_HOST")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	dims := 768
	if model == "all-minilm" {
		dims = 384
	}
	return &Ollama{
		baseURL: baseURL,
		model:   model,
		dims:    dims,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *Ollama) Embed(ctx context.Context, text string) (Vector, error) {
	req := struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
	}{e.model, text}
	var resp struct {
		Embedding Vector `json:"embedding"`
	}
	if err := postJSON(ctx, e.client, e.baseURL+"/api/embeddings", "", req, &resp); err != nil {
		return nil, err
	}
	return resp.Embedding, nil
}

func (e *Ollama) Dims() int { return e.dims }

// --- OpenAI-compatible provider ---

// OpenAI embeds text through any OpenAI-compatible embeddings API.
type OpenAI struct {
	baseURL string
	apiKey  string
	model   string
	dims    int
	client  *http.Client
}

// NewOpenAI creates an embedder for an OpenAI-compatible endpoint.
func NewOpenAI(baseURL, apiKey, model string, dims int) *OpenAI {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	if dims == 0 {
		dims = 1536
	}
	return &OpenAI{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		dims:    dims,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *OpenAI) Embed(ctx context.Context, text string) (Vector, error) {
	req := struct {
		Input string `json:"input"`
		Model string `json:"model"`
	}{text, e.model}
	var resp struct {
		Data []struct {
			Embedding Vector `json:"embedding"`
		} `json:"data"`
	}
	if err := postJSON(ctx, e.client, e.baseURL+"/embeddings", e.apiKey, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return resp.Data[0].Embedding, nil
}

func (e *OpenAI) Dims() int { return e.dims }

// NewFromEnv creates an embedder from environment variables, or nil
// when embeddings are disabled.
//
//	STRATA_EMBED_PROVIDER: "ollama" | "openai" | "" (disabled)
//	STRATA_EMBED_MODEL:    model name
//	STRATA_EMBED_URL:      base URL override (openai provider)
//	OPENAI_API_KEY:        key for the openai provider
func NewFromEnv() Embedder {
	provider := os.Getenv("STRATA_EMBED_PROVIDER")
	model := os.Getenv("STRATA_EMBED_MODEL")

	switch provider {
	case "ollama":
		if model == "" {
			model = "nomic-embed-text"
		}
		return NewOllama(model)
	case "openai":
		return NewOpenAI(os.Getenv("STRATA_EMBED_URL"), os.Getenv("OPENAI_API_KEY"), model, 0)
	default:
		return nil
	}
}
