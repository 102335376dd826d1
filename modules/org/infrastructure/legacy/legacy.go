// Package legacy reads the pre-normalization sales team tables for the
// hierarchy migration, either from the legacy Postgres schema or from a YAML
// fixture with the same shape.
package legacy

import (
	"strings"

	"github.com/google/uuid"

	"github.com/iota-uz/salesorg/modules/org/domain/subjectid"
)

// System namespaces legacy user keys when they are turned into user ids.
const System = "sales"

// userID maps a legacy account key to its user id. Keys that do not resolve
// map to uuid.Nil, which the migration reports as a dangling reference.
func userID(key int64) uuid.UUID {
	id, err := subjectid.LegacyUserID(System, key)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func displayName(username, first, last string) string {
	if full := strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last)); full != "" {
		return full
	}
	return strings.TrimSpace(username)
}
