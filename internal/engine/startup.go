package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// EnsureReady checks that the Engine is reachable and that the required
// models are available. Missing models are pulled when the provider supports
// it, with progress written to w. Hosted providers that cannot pull only get
// a warning, since their model catalogs are not always listable.
func EnsureReady(ctx context.Context, e Engine, models []string, w io.Writer) error {
	if !e.IsRunning(ctx) {
		return fmt.Errorf("%s engine is not reachable; check the base URL and credentials", e.Name())
	}

	seen := make(map[string]bool, len(models))
	for _, model := range models {
		if model == "" || seen[model] {
			continue
		}
		seen[model] = true

		if e.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}

		fmt.Fprintf(w, "model %s: pulling...\n", model)
		err := e.PullModel(ctx, model, func(p PullProgress) {
			if p.Total > 0 {
				pct := float64(p.Completed) / float64(p.Total) * 100
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
			} else {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
		})
		if errors.Is(err, ErrUnsupported) {
			fmt.Fprintf(w, "model %s: not listed by %s, continuing\n", model, e.Name())
			continue
		}
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}

	return nil
}
