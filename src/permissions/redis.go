package permissions

import (
	"context"
	"errors"
	"fmt"

	"github.com/orchestra-mcp/collab/config"
	"github.com/orchestra-mcp/collab/src/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	// ErrStoreUnavailable is returned by Start when Redis cannot be reached.
	ErrStoreUnavailable = errors.New("permission store unavailable")
	// ErrInvalidLevel is returned by Grant for an unknown permission level.
	ErrInvalidLevel = errors.New("invalid permission level")
)

// Stored permission levels. Owners may edit.
const (
	LevelOwner = "owner"
	LevelEdit  = "edit"
	LevelView  = "view"
)

// ParseLevel maps a stored level to a permission. Unknown levels grant nothing.
func ParseLevel(level string) types.Permission {
	switch level {
	case LevelOwner, LevelEdit:
		return types.PermissionEdit
	case LevelView:
		return types.PermissionView
	default:
		return types.PermissionNone
	}
}

// RedisStore reads note collaborators from Redis. Each note has one hash
// keyed "<prefix>note:<noteID>:perm" mapping user IDs to a level.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisStore creates a store. It does not connect until first use.
func NewRedisStore(cfg config.RedisConfig, logger zerolog.Logger) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisStore{
		client: client,
		prefix: cfg.Prefix,
		logger: logger.With().Str("component", "permissions").Logger(),
	}
}

// Start verifies that Redis is reachable.
func (s *RedisStore) Start(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	s.logger.Info().Str("prefix", s.prefix).Msg("permission store connected")
	return nil
}

// Authorize returns the user's permission on a note. A missing note or
// collaborator entry yields PermissionNone without error.
func (s *RedisStore) Authorize(ctx context.Context, noteID, userID string) (types.Permission, error) {
	level, err := s.client.HGet(ctx, s.key(noteID), userID).Result()
	if errors.Is(err, redis.Nil) {
		return types.PermissionNone, nil
	}
	if err != nil {
		return types.PermissionNone, fmt.Errorf("lookup %s on note %s: %w", userID, noteID, err)
	}
	return ParseLevel(level), nil
}

// Grant sets a user's level on a note.
func (s *RedisStore) Grant(ctx context.Context, noteID, userID, level string) error {
	if ParseLevel(level) == types.PermissionNone {
		return fmt.Errorf("%w: %q", ErrInvalidLevel, level)
	}
	if err := s.client.HSet(ctx, s.key(noteID), userID, level).Err(); err != nil {
		return fmt.Errorf("grant %s on note %s: %w", userID, noteID, err)
	}
	s.logger.Debug().
		Str("note_id", noteID).
		Str("user_id", userID).
		Str("level", level).
		Msg("permission granted")
	return nil
}

// Revoke removes a user from a note's collaborators.
func (s *RedisStore) Revoke(ctx context.Context, noteID, userID string) error {
	if err := s.client.HDel(ctx, s.key(noteID), userID).Err(); err != nil {
		return fmt.Errorf("revoke %s on note %s: %w", userID, noteID, err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(noteID string) string {
	return s.prefix + "note:" + noteID + ":perm"
}
