package tenant

import (
	"errors"
	"strings"
)

// KeySeparator joins the tenant id and the logical key name. Tenant ids can
// never contain it, which keeps the physical key space injective.
const KeySeparator = ":"

// ErrEmptyKey is returned for a blank logical key name.
var ErrEmptyKey = errors.New("tenant: logical key is empty")

// Key derives the physical key "<tenantId>:<logicalName>" for tc. The format
// is persisted; changing it requires a data migration.
func Key(tc Context, logicalName string) (string, error) {
	if !tc.Valid() {
		return "", invalidContext("key requested without tenant context")
	}
	if strings.TrimSpace(logicalName) == "" {
		return "", ErrEmptyKey
	}
	return tc.tenantID + KeySeparator + logicalName, nil
}

// LogicalName strips the tenant prefix from a physical key produced by Key for
// the same tenant. ok is false when physical belongs to another tenant.
func LogicalName(tc Context, physical string) (string, bool) {
	prefix := tc.tenantID + KeySeparator
	if !tc.Valid() || !strings.HasPrefix(physical, prefix) {
		return "", false
	}
	return physical[len(prefix):], true
}
