// Package storetest holds behavior checks shared by every store.Store backend.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/storekit/store"
)

// Run exercises s against the store.Store contract. s must be empty and
// migrated; Run closes it when done.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()
	t.Cleanup(func() { _ = s.Close() })

	t.Run("ping", func(t *testing.T) {
		require.NoError(t, s.Ping(ctx))
	})

	t.Run("default_when_unset", func(t *testing.T) {
		v, err := s.GetBool(ctx, "Purchased-Unset", false)
		require.NoError(t, err)
		assert.False(t, v)

		v, err = s.GetBool(ctx, "Purchased-Unset", true)
		require.NoError(t, err)
		assert.True(t, v)
	})

	t.Run("set_then_get", func(t *testing.T) {
		require.NoError(t, s.SetBool(ctx, "Purchased-DigitalSodaPop", true))
		v, err := s.GetBool(ctx, "Purchased-DigitalSodaPop", false)
		require.NoError(t, err)
		assert.True(t, v)
	})

	t.Run("upsert_is_idempotent", func(t *testing.T) {
		for range 3 {
			require.NoError(t, s.SetBool(ctx, "Purchased-MonthlySodaPop", true))
		}
		v, err := s.GetBool(ctx, "Purchased-MonthlySodaPop", false)
		require.NoError(t, err)
		assert.True(t, v)

		require.NoError(t, s.SetBool(ctx, "Purchased-MonthlySodaPop", false))
		v, err = s.GetBool(ctx, "Purchased-MonthlySodaPop", true)
		require.NoError(t, err)
		assert.False(t, v)
		require.NoError(t, s.SetBool(ctx, "Purchased-MonthlySodaPop", true))
	})

	t.Run("scan_by_prefix", func(t *testing.T) {
		require.NoError(t, s.SetBool(ctx, "Other-DigitalSodaPop", true))
		require.NoError(t, s.SetBool(ctx, "Purchased_Like%", true))

		got, err := s.Scan(ctx, "Purchased-")
		require.NoError(t, err)
		assert.Equal(t, map[string]bool{
			"Purchased-DigitalSodaPop": true,
			"Purchased-MonthlySodaPop": true,
		}, got)
	})

	t.Run("concurrent_writes", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.SetBool(ctx, fmt.Sprintf("Race-%d", i%2), true))
			}()
		}
		wg.Wait()

		got, err := s.Scan(ctx, "Race-")
		require.NoError(t, err)
		assert.Equal(t, map[string]bool{"Race-0": true, "Race-1": true}, got)
	})
}
