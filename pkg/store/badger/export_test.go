package badger

import (
	"context"
	"time"

	"github.com/MrWong99/callagent/pkg/store"
)

// SaveCallAt saves rec with the id clock pinned to t.
func SaveCallAt(ctx context.Context, s *Store, rec *store.CallRecord, t time.Time) (string, error) {
	s.now = func() time.Time { return t }
	defer func() { s.now = time.Now }()
	return s.SaveCall(ctx, rec)
}
