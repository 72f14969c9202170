package engine

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/canopy/internal/testutil"
)

func TestUUIDv7Generator(t *testing.T) {
	gen := UUIDv7Generator{}
	a, b := gen.Generate(), gen.Generate()

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.NotEqual(t, a, b)
}

func TestResolvePeerID_NoJournal(t *testing.T) {
	ctx := context.Background()
	gen := testutil.NewFixedPeerGenerator("generated")

	id, err := ResolvePeerID(ctx, nil, "configured", gen)
	require.NoError(t, err)
	assert.Equal(t, "configured", id)

	id, err = ResolvePeerID(ctx, nil, "", gen)
	require.NoError(t, err)
	assert.Equal(t, "generated", id)
}

func TestResolvePeerID_PersistsGenerated(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t, "")

	id, err := ResolvePeerID(ctx, j, "", testutil.NewFixedPeerGenerator("first"))
	require.NoError(t, err)
	assert.Equal(t, "first", id)

	// A restart reuses the stored id instead of generating a new one.
	id, err = ResolvePeerID(ctx, j, "", testutil.NewFixedPeerGenerator("second"))
	require.NoError(t, err)
	assert.Equal(t, "first", id)
}

func TestResolvePeerID_ConfiguredWins(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t, "")
	require.NoError(t, j.SetPeerID(ctx, "old"))

	id, err := ResolvePeerID(ctx, j, "new", testutil.NewFixedPeerGenerator(""))
	require.NoError(t, err)
	assert.Equal(t, "new", id)

	stored, ok, err := j.PeerID(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", stored)
}
