package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

// OllamaBackend embeds through a local Ollama server.
type OllamaBackend struct {
	client *api.Client
	model  string
}

// NewOllamaBackend creates a backend connected to host (e.g. http://localhost:11434).
func NewOllamaBackend(host, model string) (*OllamaBackend, error) {
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("parse ollama host: %w", err)
	}
	return &OllamaBackend{
		client: api.NewClient(u, http.DefaultClient),
		model:  model,
	}, nil
}

// EmbedBatch embeds all texts in a single request.
func (b *OllamaBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := b.client.Embed(ctx, &api.EmbedRequest{
		Model: b.model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	return resp.Embeddings, nil
}
