package subjectid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	subjectIDNamespaceV1 = uuid.MustParse("ce7c5394-3959-40ff-9d92-a1c2684d94cc")
)

// LegacyUserID returns the deterministic user id for a legacy account key.
// The same (system, key) pair always maps to the same id, so repeated
// migrations line up with memberships created earlier.
func LegacyUserID(system string, key int64) (uuid.UUID, error) {
	system = strings.ToLower(strings.TrimSpace(system))
	if system == "" {
		return uuid.Nil, fmt.Errorf("legacy system is required")
	}
	if key <= 0 {
		return uuid.Nil, fmt.Errorf("legacy user key must be positive, got %d", key)
	}

	payload := fmt.Sprintf("%s:user:%d", system, key)
	return uuid.NewSHA1(subjectIDNamespaceV1, []byte(payload)), nil
}
