package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/storekit"
	"github.com/xraph/storekit/store/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, New())
}

func TestClosedStore(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.SetBool(ctx, "k", true), storekit.ErrStoreClosed)
	_, err := s.GetBool(ctx, "k", false)
	assert.ErrorIs(t, err, storekit.ErrStoreClosed)
	_, err = s.Scan(ctx, "")
	assert.ErrorIs(t, err, storekit.ErrStoreClosed)
	assert.ErrorIs(t, s.Ping(ctx), storekit.ErrStoreClosed)
}
