// Package embedder defines the external sentence-embedding boundary: a
// pure function text -> L2-normalized vector, treated as a dependency the
// vector worker calls and never implements itself.
package embedder

import "context"

// Embedder turns text into a fixed-dimension, L2-normalized vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch embeds every text in one call with batch-level failure
	// semantics: either all vectors come back, in order and the same
	// length as texts, or err is non-nil and none of them are usable.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}
