package embedding

import (
	"context"
	"fmt"
	"sort"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Backend is the wire-level embedding call: one request per batch of texts.
type Backend interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// OpenAIBackend talks to any OpenAI-compatible /embeddings endpoint
// (OpenAI itself, or a self-hosted server exposing BAAI/bge-large-en-v1.5).
type OpenAIBackend struct {
	client openai.Client
	model  string
}

// NewOpenAIBackend creates a backend for the given endpoint. An empty baseURL means api.openai.com.
// Retries are disabled here; callers own the retry policy.
func NewOpenAIBackend(baseURL, apiKey, model string) (*OpenAIBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("embedding API key not set (EMBEDDING_API_KEY or OPENAI_API_KEY)")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &OpenAIBackend{
		client: openai.NewClient(opts...),
		model:  model,
	}, nil
}

// EmbedBatch sends {model, input, encoding_format: "float"} and returns vectors in input order.
func (b *OpenAIBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := b.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model:          openai.EmbeddingModel(b.model),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, err
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	embeddings := make([][]float32, len(data))
	for i, d := range data {
		embeddings[i] = toFloat32(d.Embedding)
	}
	return embeddings, nil
}

// toFloat32 converts []float64 to []float32.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
