package planstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/arangodb/shared"
	"github.com/arangodb/go-driver/v2/connection"

	"toolmesh.dev/engine/internal/engine"
)

const plansCollection = "plan_snapshots"

// ArangoConfig configures the optional ArangoDB-backed plan store, for
// deployments that already run ArangoDB for other purposes (§10.5, §6).
type ArangoConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

func (c ArangoConfig) validate() error {
	if c.URL == "" {
		return fmt.Errorf("arangodb URL is required")
	}
	if c.Username == "" {
		return fmt.Errorf("arangodb username is required")
	}
	if c.Database == "" {
		return fmt.Errorf("arangodb database name is required")
	}
	return nil
}

// ArangoPlanStore stores the same plan-snapshot JSON document shape as
// FilePlanStore, keyed by request/session id, in an ArangoDB collection.
// Grounded on the teacher's common/arangodb connection-setup idiom
// (NewHttp2Connection / NewBasicAuth), rewritten for a single generic
// document collection instead of the teacher's code-graph node/edge schema.
type ArangoPlanStore struct {
	db arangodb.Database
}

type planDocument struct {
	Key      string       `json:"_key"`
	Snapshot planSnapshot `json:"snapshot"`
}

func NewArangoPlanStore(ctx context.Context, cfg ArangoConfig) (*ArangoPlanStore, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("arangodb plan store config: %w", err)
	}

	endpoint := connection.NewRoundRobinEndpoints([]string{cfg.URL})
	conn := connection.NewHttp2Connection(connection.DefaultHTTP2ConfigurationWrapper(endpoint, true))

	auth := connection.NewBasicAuth(cfg.Username, cfg.Password)
	if err := conn.SetAuthentication(auth); err != nil {
		return nil, fmt.Errorf("arangodb auth: %w", err)
	}

	client := arangodb.NewClient(conn)

	exists, err := client.DatabaseExists(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("check database exists: %w", err)
	}
	if !exists {
		if _, err := client.CreateDatabase(ctx, cfg.Database, nil); err != nil {
			return nil, fmt.Errorf("create database: %w", err)
		}
	}

	db, err := client.GetDatabase(ctx, cfg.Database, nil)
	if err != nil {
		return nil, fmt.Errorf("get database: %w", err)
	}

	store := &ArangoPlanStore{db: db}
	if err := store.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *ArangoPlanStore) ensureCollection(ctx context.Context) error {
	exists, err := s.db.CollectionExists(ctx, plansCollection)
	if err != nil {
		return fmt.Errorf("check plan collection exists: %w", err)
	}
	if exists {
		return nil
	}
	if _, err := s.db.CreateCollection(ctx, plansCollection, nil); err != nil {
		return fmt.Errorf("create plan collection: %w", err)
	}
	return nil
}

func (s *ArangoPlanStore) Load(ctx context.Context, id string) (*engine.ExecutionPlan, bool, error) {
	col, err := s.db.GetCollection(ctx, plansCollection, nil)
	if err != nil {
		return nil, false, fmt.Errorf("planstore: get collection: %w", err)
	}

	var doc planDocument
	_, err = col.ReadDocument(ctx, id, &doc)
	if err != nil {
		var arangoErr shared.ArangoError
		if errors.As(err, &arangoErr) && arangoErr.Code == 404 {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("planstore: read document %s: %w", id, err)
	}

	return doc.Snapshot.toPlan(), true, nil
}

func (s *ArangoPlanStore) Save(ctx context.Context, id string, plan *engine.ExecutionPlan) error {
	col, err := s.db.GetCollection(ctx, plansCollection, nil)
	if err != nil {
		return fmt.Errorf("planstore: get collection: %w", err)
	}

	doc := planDocument{Key: id, Snapshot: fromPlan(plan)}

	exists, err := col.DocumentExists(ctx, id)
	if err != nil {
		return fmt.Errorf("planstore: check document exists: %w", err)
	}

	if exists {
		if _, err := col.ReplaceDocument(ctx, id, doc); err != nil {
			return fmt.Errorf("planstore: replace document %s: %w", id, err)
		}
		return nil
	}

	if _, err := col.CreateDocument(ctx, doc); err != nil {
		return fmt.Errorf("planstore: create document %s: %w", id, err)
	}

	slog.DebugContext(ctx, "plan snapshot saved to arangodb", "id", id)
	return nil
}
