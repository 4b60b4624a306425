package corpus

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// MemorySource serves splits registered in memory.
type MemorySource struct {
	mu     sync.RWMutex
	splits map[string][]Example
}

// NewMemorySource creates an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{splits: make(map[string][]Example)}
}

// Add registers examples for dataset/split, replacing any previous content.
func (s *MemorySource) Add(dataset, split string, examples ...Example) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.splits[dataset+"/"+split] = slices.Clone(examples)
}

// Fetch returns a copy of the registered split.
func (s *MemorySource) Fetch(ctx context.Context, dataset, split string) ([]Example, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	examples, ok := s.splits[dataset+"/"+split]
	if !ok {
		return nil, fmt.Errorf("%w: split %s/%s not found", ErrDataSource, dataset, split)
	}
	return slices.Clone(examples), nil
}
