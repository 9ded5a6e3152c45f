package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PersonaCatalog is the on-disk persona list, e.g.
//
//	personas:
//	  - id: dr-lee
//	    name: Dr. Lee
//	    title: Cardiologist
//	    specialty: cardiology
//	    communication_style:
//	      tone: skeptical
//	    typical_questions:
//	      - Why this drug?
type PersonaCatalog struct {
	Personas []Persona `yaml:"personas"`
}

// LoadPersonaCatalog reads and validates a YAML persona catalog.
func LoadPersonaCatalog(path string) (*PersonaCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading persona catalog: %w", err)
	}

	var catalog PersonaCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parsing persona catalog: %w", err)
	}

	seen := make(map[string]bool, len(catalog.Personas))
	for i, p := range catalog.Personas {
		if err := validatePersona(p); err != nil {
			return nil, fmt.Errorf("persona #%d: %w", i+1, err)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("persona #%d: duplicate id %q", i+1, p.ID)
		}
		seen[p.ID] = true
	}
	return &catalog, nil
}

func validatePersona(p Persona) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("persona %s: name is required", p.ID)
	}
	if len(p.TypicalQuestions) == 0 {
		return fmt.Errorf("persona %s: at least one typical question is required", p.ID)
	}
	return nil
}

// IngestPersonasFromFile loads a catalog file and upserts every persona.
func (s *SQLiteStore) IngestPersonasFromFile(ctx context.Context, path string) (int, error) {
	catalog, err := LoadPersonaCatalog(path)
	if err != nil {
		return 0, err
	}
	if len(catalog.Personas) == 0 {
		slog.Warn("persona catalog is empty", "path", path)
		return 0, nil
	}

	count := 0
	for i := range catalog.Personas {
		p := &catalog.Personas[i]
		if err := s.UpsertPersona(ctx, p); err != nil {
			return count, fmt.Errorf("storing persona %s: %w", p.ID, err)
		}
		count++
	}
	slog.Info("ingested personas", "count", count, "path", path)
	return count, nil
}

// LoadInto copies every persona of the catalog into a memory store.
func (c *PersonaCatalog) LoadInto(m *MemoryStore) {
	for i := range c.Personas {
		m.PutPersona(&c.Personas[i])
	}
}
