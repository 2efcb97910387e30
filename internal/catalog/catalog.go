// Package catalog serves assessment definitions to the engine. Definitions
// are owned by the content system; the engine only reads them.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/stemsi/exstem-attempt-engine/internal/model"
)

// ErrDefinitionNotFound is returned for unknown assessment ids.
var ErrDefinitionNotFound = errors.New("assessment definition not found")

// Catalog resolves assessment definitions by id.
type Catalog interface {
	Get(ctx context.Context, assessmentID string) (*model.AssessmentDefinition, error)
}

// Source is a Catalog backed by a store that can also enumerate and write.
type Source interface {
	Catalog
	ListPublished(ctx context.Context) ([]model.AssessmentDefinition, error)
	Upsert(ctx context.Context, def *model.AssessmentDefinition) error
}

// MemorySource keeps definitions in process.
type MemorySource struct {
	mu   sync.RWMutex
	defs map[string]model.AssessmentDefinition
}

// NewMemorySource creates a MemorySource holding defs.
func NewMemorySource(defs ...*model.AssessmentDefinition) *MemorySource {
	m := &MemorySource{defs: make(map[string]model.AssessmentDefinition, len(defs))}
	for _, d := range defs {
		m.defs[d.ID] = *d
	}
	return m
}

// LoadFile reads a JSON array of definition documents, validating each one.
func LoadFile(path string) (*MemorySource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	var docs []json.RawMessage
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("decode catalog file: %w", err)
	}

	src := NewMemorySource()
	for i, doc := range docs {
		def, err := Parse(doc)
		if err != nil {
			return nil, fmt.Errorf("definition %d: %w", i, err)
		}
		src.defs[def.ID] = *def
	}
	return src, nil
}

func (m *MemorySource) Get(_ context.Context, assessmentID string) (*model.AssessmentDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.defs[assessmentID]
	if !ok {
		return nil, ErrDefinitionNotFound
	}
	return &def, nil
}

func (m *MemorySource) ListPublished(_ context.Context) ([]model.AssessmentDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.AssessmentDefinition, 0, len(m.defs))
	for _, d := range m.defs {
		if d.Published {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemorySource) Upsert(_ context.Context, def *model.AssessmentDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defs[def.ID] = *def
	return nil
}
