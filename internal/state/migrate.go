package state

import (
	"encoding/json"
	"fmt"
)

// migration bumps _schema_version by exactly one. Migrations are additive:
// they add fields with defaults, never remove or rename.
type migration func(map[string]interface{}) error

// migrations is keyed by the version a document is migrating FROM.
var migrations = map[int]migration{
	1: func(doc map[string]interface{}) error {
		// v1 predates URL dedup across subtopics.
		if _, ok := doc["seen_urls"]; !ok {
			doc["seen_urls"] = []interface{}{}
		}
		return nil
	},
}

// Migrate upgrades a serialized state document to the current schema and
// returns the decoded state. Documents already at the current version pass
// through unchanged.
func Migrate(data []byte) (*ResearchState, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode state document: %w", err)
	}
	version := 1
	if v, ok := doc["_schema_version"].(float64); ok {
		version = int(v)
	}
	if version > SchemaVersion {
		return nil, fmt.Errorf("state schema %d newer than supported %d", version, SchemaVersion)
	}
	for version < SchemaVersion {
		step, ok := migrations[version]
		if !ok {
			return nil, fmt.Errorf("no migration from schema %d", version)
		}
		if err := step(doc); err != nil {
			return nil, fmt.Errorf("migrate schema %d: %w", version, err)
		}
		version++
		doc["_schema_version"] = version
	}
	migrated, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode migrated state: %w", err)
	}
	return Unmarshal(migrated)
}
