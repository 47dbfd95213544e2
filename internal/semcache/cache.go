// Package semcache answers repeated questions from a store of past answers,
// matched by embedding distance.
package semcache

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultThreshold is the minimum similarity for a cache hit.
const DefaultThreshold = 0.9

// Entry is one cached question and its answer.
type Entry struct {
	ID        int64     `json:"id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
}

// Hit is the nearest cached entry for a query.
type Hit struct {
	ID         int64
	Question   string
	Answer     string
	Distance   float64
	Similarity float64
}

// Pair is a question/answer pair for bulk import.
type Pair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Stats summarizes the cache contents.
type Stats struct {
	Entries   int     `json:"entries"`
	Dims      []int   `json:"dims"`
	Threshold float64 `json:"threshold"`
}

// Vectorizer turns text into embeddings. *Embedder satisfies it.
type Vectorizer interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Cache is a semantic cache backed by the cache_entries table.
type Cache struct {
	ix        *index
	vec       Vectorizer
	threshold float64

	// mu serializes writers so ids stay equal to insertion positions.
	mu sync.Mutex
}

// Option configures a Cache.
type Option func(*Cache)

// WithThreshold overrides DefaultThreshold. Values outside (0, 1] are ignored.
func WithThreshold(t float64) Option {
	return func(c *Cache) {
		if t > 0 && t <= 1 {
			c.threshold = t
		}
	}
}

// New creates a Cache over db, which must carry the storage migrations.
func New(db *sql.DB, vec Vectorizer, opts ...Option) *Cache {
	c := &Cache{ix: &index{db: db}, vec: vec, threshold: DefaultThreshold}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Threshold returns the configured hit threshold.
func (c *Cache) Threshold() float64 { return c.threshold }

// Similarity maps a squared L2 distance to (0, 1].
func Similarity(distance float64) float64 {
	return 1 / (1 + distance)
}

// Search returns the nearest cached answer when its similarity reaches the
// threshold. An empty cache is always a miss.
func (c *Cache) Search(ctx context.Context, query string) (Hit, bool, error) {
	n, err := c.ix.count(ctx)
	if err != nil {
		return Hit{}, false, fmt.Errorf("counting cache entries: %w", err)
	}
	if n == 0 {
		return Hit{}, false, nil
	}

	vec, err := c.vec.Embed(ctx, query)
	if err != nil {
		return Hit{}, false, err
	}
	nb, ok, err := c.ix.nearest(ctx, vec)
	if err != nil || !ok {
		return Hit{}, false, err
	}

	sim := Similarity(nb.Distance)
	if sim < c.threshold {
		return Hit{Distance: nb.Distance, Similarity: sim}, false, nil
	}
	e, err := c.ix.entry(ctx, nb.ID)
	if err != nil {
		return Hit{}, false, err
	}
	return Hit{
		ID:         e.ID,
		Question:   e.Question,
		Answer:     e.Answer,
		Distance:   nb.Distance,
		Similarity: sim,
	}, true, nil
}

// Add stores a question and its answer and returns the new entry id.
func (c *Cache) Add(ctx context.Context, question, answer string) (int64, error) {
	if strings.TrimSpace(question) == "" {
		return 0, fmt.Errorf("empty question")
	}
	vec, err := c.vec.Embed(ctx, question)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	ids, err := c.ix.insert(ctx, []record{{question: question, answer: answer, vec: vec}})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// Import adds pairs in input order. Embeddings are computed concurrently and
// the rows are written in a single transaction, so a failure stores nothing.
func (c *Cache) Import(ctx context.Context, pairs []Pair) (int, error) {
	if len(pairs) == 0 {
		return 0, nil
	}
	questions := make([]string, len(pairs))
	for i, p := range pairs {
		if strings.TrimSpace(p.Question) == "" {
			return 0, fmt.Errorf("pair %d: empty question", i)
		}
		questions[i] = p.Question
	}

	vecs, err := c.vec.EmbedBatch(ctx, questions)
	if err != nil {
		return 0, fmt.Errorf("embedding import: %w", err)
	}

	records := make([]record, len(pairs))
	for i, p := range pairs {
		records[i] = record{question: p.Question, answer: p.Answer, vec: vecs[i]}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	ids, err := c.ix.insert(ctx, records)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Stats reports the number of entries and their vector dimensions.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	n, err := c.ix.count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("counting cache entries: %w", err)
	}
	dims, err := c.ix.dims(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("listing dimensions: %w", err)
	}
	return Stats{Entries: n, Dims: dims, Threshold: c.threshold}, nil
}

// List returns up to limit entries, newest first.
func (c *Cache) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	entries, err := c.ix.list(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing cache entries: %w", err)
	}
	return entries, nil
}
