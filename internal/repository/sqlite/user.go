package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/devstats/internal/apperror"
	"github.com/sakif/devstats/internal/model"
	"github.com/sakif/devstats/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

// EnsureUser inserts an empty account row for id. An existing row is left alone.
func (db *DB) EnsureUser(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, now, now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: ensuring user %s: %w", id, err)
	}
	return nil
}

// GetUserByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var (
		u            model.User
		token        sql.NullString
		lastSyncedAt sql.NullTime
	)

	err := db.conn.QueryRowContext(ctx,
		`SELECT id, github_id, github_login, github_connected, avatar_url, profile_url,
		        encrypted_token, last_synced_at, created_at, updated_at
		 FROM users WHERE id = ?`,
		id,
	).Scan(
		&u.ID,
		&u.GitHubID,
		&u.GitHubLogin,
		&u.GitHubConnected,
		&u.AvatarURL,
		&u.ProfileURL,
		&token,
		&lastSyncedAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}

	if token.Valid {
		u.EncryptedToken = &token.String
	}
	if lastSyncedAt.Valid {
		t := lastSyncedAt.Time
		u.LastSyncedAt = &t
	}
	return &u, nil
}

// SaveGitHubLink stores the credential and profile fields and flips the
// account to connected. The account row must already exist.
//
// COALESCE(?, last_synced_at) keeps the previous sync time when the caller
// passes NULL (initial link), so relinking does not erase sync history.
func (db *DB) SaveGitHubLink(ctx context.Context, userID string, link model.GitHubLink) error {
	var syncedAt any
	if link.SyncedAt != nil {
		syncedAt = link.SyncedAt.UTC()
	}

	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET
			github_id        = ?,
			github_login     = ?,
			github_connected = 1,
			avatar_url       = ?,
			profile_url      = ?,
			encrypted_token  = ?,
			last_synced_at   = COALESCE(?, last_synced_at),
			updated_at       = ?
		 WHERE id = ?`,
		link.GitHubID,
		link.Login,
		link.AvatarURL,
		link.ProfileURL,
		link.EncryptedToken,
		syncedAt,
		time.Now().UTC(),
		userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: saving github link for user %s: %w", userID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

// RefreshGitHubLink is the conditional write at the end of a sync.
//
// COMPARE-AND-SET:
// The WHERE clause matches only while the row still holds the ciphertext the
// sync started from. A Disconnect (token NULL, connected 0) or a relink (new
// ciphertext) that landed mid-sync leaves 0 rows affected, and the stale sync
// must not write the old credential back.
func (db *DB) RefreshGitHubLink(ctx context.Context, userID, expectedToken string, link model.GitHubLink) error {
	var syncedAt any
	if link.SyncedAt != nil {
		syncedAt = link.SyncedAt.UTC()
	}

	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET
			github_id       = ?,
			github_login    = ?,
			avatar_url      = ?,
			profile_url     = ?,
			encrypted_token = ?,
			last_synced_at  = COALESCE(?, last_synced_at),
			updated_at      = ?
		 WHERE id = ? AND github_connected = 1 AND encrypted_token = ?`,
		link.GitHubID,
		link.Login,
		link.AvatarURL,
		link.ProfileURL,
		link.EncryptedToken,
		syncedAt,
		time.Now().UTC(),
		userID,
		expectedToken,
	)
	if err != nil {
		return fmt.Errorf("sqlite: refreshing github link for user %s: %w", userID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.Conflict("github link", userID)
	}
	return nil
}

// ClearGitHubCredential removes the stored token and marks the account
// disconnected. Both columns change in the same UPDATE so nothing can read a
// connected account without a token. Unknown ids are a no-op.
func (db *DB) ClearGitHubCredential(ctx context.Context, userID string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE users SET github_connected = 0, encrypted_token = NULL, updated_at = ?
		 WHERE id = ?`,
		time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: clearing github credential for user %s: %w", userID, err)
	}
	return nil
}
