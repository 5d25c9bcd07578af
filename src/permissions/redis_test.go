package permissions

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/orchestra-mcp/collab/config"
	"github.com/orchestra-mcp/collab/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := config.DefaultRedisConfig()
	cfg.Addr = mr.Addr()
	s := NewRedisStore(cfg, zerolog.Nop())
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, types.PermissionEdit, ParseLevel(LevelOwner))
	assert.Equal(t, types.PermissionEdit, ParseLevel(LevelEdit))
	assert.Equal(t, types.PermissionView, ParseLevel(LevelView))
	assert.Equal(t, types.PermissionNone, ParseLevel("admin"))
	assert.Equal(t, types.PermissionNone, ParseLevel(""))
}

func TestRedisStoreStart(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Start(context.Background()))
}

func TestRedisStoreStartUnavailable(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestRedisStoreAuthorize(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	mr.HSet("collab:note:n1:perm", "owner-id", "owner")
	mr.HSet("collab:note:n1:perm", "editor-id", "edit")
	mr.HSet("collab:note:n1:perm", "viewer-id", "view")

	tests := []struct {
		note, user string
		want       types.Permission
	}{
		{"n1", "owner-id", types.PermissionEdit},
		{"n1", "editor-id", types.PermissionEdit},
		{"n1", "viewer-id", types.PermissionView},
		{"n1", "stranger", types.PermissionNone},
		{"missing-note", "owner-id", types.PermissionNone},
	}
	for _, tt := range tests {
		got, err := s.Authorize(ctx, tt.note, tt.user)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s on %s", tt.user, tt.note)
	}
}

func TestRedisStoreGrantAndRevoke(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Grant(ctx, "n2", "u1", LevelView))
	assert.Equal(t, "view", mr.HGet("collab:note:n2:perm", "u1"))

	perm, err := s.Authorize(ctx, "n2", "u1")
	require.NoError(t, err)
	assert.Equal(t, types.PermissionView, perm)

	require.NoError(t, s.Revoke(ctx, "n2", "u1"))
	perm, err = s.Authorize(ctx, "n2", "u1")
	require.NoError(t, err)
	assert.Equal(t, types.PermissionNone, perm)
}

func TestRedisStoreGrantRejectsUnknownLevel(t *testing.T) {
	s, _ := newTestStore(t)
	err := s.Grant(context.Background(), "n1", "u1", "superuser")
	assert.ErrorIs(t, err, ErrInvalidLevel)
}

func TestRedisStoreAuthorizeBackendError(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()

	perm, err := s.Authorize(context.Background(), "n1", "u1")
	require.Error(t, err)
	assert.Equal(t, types.PermissionNone, perm)
}
