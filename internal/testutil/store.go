package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/kudosync/internal/store"
)

// NewStore returns a store with ops applied in one batch.
func NewStore(t testing.TB, ops ...store.Op) *store.Store {
	t.Helper()
	s := store.New()
	if len(ops) > 0 {
		require.NoError(t, s.Apply(ops...))
	}
	return s
}
