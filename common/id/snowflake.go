package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID. Called once at
// process startup (cmd/engine/main.go) with the configured node ID.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New generates a new globally unique int64 ID using the Snowflake algorithm,
// used to stamp query and plan identifiers. IDs are time-ordered and unique
// across distributed instances. If Init was never called — e.g. a unit test
// that builds a plan directly, with no process entrypoint in play — New
// lazily falls back to node 0 so callers never have to special-case it.
func New() int64 {
	once.Do(func() {
		if node == nil {
			node, _ = snowflake.NewNode(0)
		}
	})
	return node.Generate().Int64()
}
