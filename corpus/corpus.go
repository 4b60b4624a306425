// Package corpus loads labeled text examples from a data source.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
)

// ErrDataSource is returned when a split is missing, empty or malformed.
var ErrDataSource = errors.New("data source error")

// DefaultSeed is the shuffle seed used when none is configured.
const DefaultSeed = 42

// Example is one labeled text. Label is 0 or 1.
type Example struct {
	Text  string
	Label int
}

// Corpus is an ordered, immutable list of examples.
type Corpus []Example

// Len returns the number of examples.
func (c Corpus) Len() int { return len(c) }

// Texts returns the example texts in corpus order.
func (c Corpus) Texts() []string {
	out := make([]string, len(c))
	for i, e := range c {
		out[i] = e.Text
	}
	return out
}

// Labels returns the example labels in corpus order.
func (c Corpus) Labels() []int {
	out := make([]int, len(c))
	for i, e := range c {
		out[i] = e.Label
	}
	return out
}

// Source fetches the examples of one split of a named dataset.
type Source interface {
	Fetch(ctx context.Context, dataset, split string) ([]Example, error)
}

// Loader fetches a split, truncates it to the first Limit examples, validates labels and
// shuffles it deterministically.
type Loader struct {
	source  Source
	dataset string
	limit   int
	seed    uint64
	logger  *slog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLimit keeps only the first n examples of a split. Zero means no limit.
func WithLimit(n int) LoaderOption {
	return func(l *Loader) { l.limit = n }
}

// WithSeed sets the shuffle seed.
func WithSeed(seed uint64) LoaderOption {
	return func(l *Loader) { l.seed = seed }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader creates a loader for dataset on source.
func NewLoader(source Source, dataset string, optFns ...LoaderOption) *Loader {
	l := &Loader{
		source:  source,
		dataset: dataset,
		seed:    DefaultSeed,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		fn(l)
	}
	return l
}

// Load returns the truncated, shuffled split. The same seed and input always produce
// the same order.
func (l *Loader) Load(ctx context.Context, split string) (Corpus, error) {
	examples, err := l.source.Fetch(ctx, l.dataset, split)
	if err != nil {
		if errors.Is(err, ErrDataSource) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s/%s: %w", ErrDataSource, l.dataset, split, err)
	}

	if l.limit > 0 && len(examples) > l.limit {
		examples = examples[:l.limit]
	}
	if len(examples) == 0 {
		return nil, fmt.Errorf("%w: %s/%s is empty", ErrDataSource, l.dataset, split)
	}

	out := make(Corpus, len(examples))
	for i, e := range examples {
		if e.Label != 0 && e.Label != 1 {
			return nil, fmt.Errorf("%w: %s/%s example %d: label %d not in {0,1}", ErrDataSource, l.dataset, split, i, e.Label)
		}
		out[i] = e
	}

	Shuffle(out, l.seed)

	l.logger.Debug("corpus loaded", "dataset", l.dataset, "split", split, "examples", len(out), "seed", l.seed)
	return out, nil
}

// Shuffle permutes c in place with a generator seeded by seed.
func Shuffle(c Corpus, seed uint64) {
	rng := rand.New(rand.NewPCG(seed, seed))
	rng.Shuffle(len(c), func(i, j int) { c[i], c[j] = c[j], c[i] })
}
