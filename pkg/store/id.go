package store

import (
	"encoding/hex"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// callIDPattern matches ids produced by NewCallID.
var callIDPattern = regexp.MustCompile(`^\d{8}_\d{6}_[0-9a-f]{32}$`)

// NewCallID returns an id of the form YYYYMMDD_HHMMSS_<32 hex> built from the
// UTC time t and a version 7 uuid. Version 7 uuids increase monotonically
// within a process, so ids sort lexically by creation order even when t
// does not advance.
func NewCallID(t time.Time) string {
	u, err := uuid.NewV7()
	if err != nil {
		u = uuid.New()
	}
	return t.UTC().Format("20060102_150405") + "_" + hex.EncodeToString(u[:])
}

// ValidCallID reports whether id has the NewCallID shape. Backends that map
// ids to file names use it to reject path traversal.
func ValidCallID(id string) bool {
	return callIDPattern.MatchString(id)
}
