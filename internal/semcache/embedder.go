package semcache

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/datalens/internal/engine"
)

// maxParallelEmbeds bounds concurrent embedding requests.
const maxParallelEmbeds = 4

// Embedder binds an engine to an embedding model.
type Embedder struct {
	engine engine.Embedder
	model  string
}

func NewEmbedder(e engine.Embedder, model string) *Embedder {
	return &Embedder{engine: e, model: model}
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("embedding text: empty vector")
	}
	return vec, nil
}

// EmbedBatch embeds texts concurrently. The result is index-aligned with
// texts; nil input yields nil.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelEmbeds)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
