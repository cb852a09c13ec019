// Package planstore provides durable plan-snapshot backends satisfying
// engine.PlanStore: a default file-backed store and an optional ArangoDB
// store, both serializing the exact JSON shape described in the engine's
// external-interfaces contract.
package planstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"toolmesh.dev/engine/internal/engine"
)

// FilePlanStore writes one JSON snapshot file per plan id under Dir, the
// default backend (§10.5, §6 "Plan snapshot format").
type FilePlanStore struct {
	Dir string
}

func NewFilePlanStore(dir string) *FilePlanStore {
	return &FilePlanStore{Dir: dir}
}

func (s *FilePlanStore) Load(ctx context.Context, id string) (*engine.ExecutionPlan, bool, error) {
	path := s.path(id)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("planstore: read %s: %w", path, err)
	}

	var snapshot planSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, false, fmt.Errorf("planstore: decode %s: %w", path, err)
	}

	return snapshot.toPlan(), true, nil
}

func (s *FilePlanStore) Save(ctx context.Context, id string, plan *engine.ExecutionPlan) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("planstore: mkdir %s: %w", s.Dir, err)
	}

	data, err := json.MarshalIndent(fromPlan(plan), "", "  ")
	if err != nil {
		return fmt.Errorf("planstore: encode plan %s: %w", id, err)
	}

	path := s.path(id)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("planstore: write %s: %w", path, err)
	}
	return nil
}

func (s *FilePlanStore) path(id string) string {
	return filepath.Join(s.Dir, id+".json")
}
