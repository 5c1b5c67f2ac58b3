package recipe

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// CheckSchemaCompatibility rejects a recipe whose schema_version's major
// component is newer than this build's SchemaVersion supports. An empty or
// absent schema_version is treated as the current version (pre-versioned
// recipe files still load).
func CheckSchemaCompatibility(r *Recipe) error {
	if r.SchemaVersion == "" {
		return nil
	}
	have, err := semver.NewVersion(r.SchemaVersion)
	if err != nil {
		return fmt.Errorf("invalid schema_version %q: %w", r.SchemaVersion, err)
	}
	supported, err := semver.NewVersion(SchemaVersion)
	if err != nil {
		return fmt.Errorf("invalid engine schema version %q: %w", SchemaVersion, err)
	}
	if have.Major() > supported.Major() {
		return fmt.Errorf("recipe schema version %s is newer than supported version %s", r.SchemaVersion, SchemaVersion)
	}
	return nil
}
