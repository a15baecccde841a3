// Package repository declares the storage interfaces the service layer needs.
//
// The service depends on these interfaces, never on a concrete database, so
// the sync logic can be tested against in-memory fakes and the SQLite
// implementation can be swapped without touching it.
package repository

import (
	"context"

	"github.com/sakif/devstats/internal/model"
)

// UserRepository persists accounts and their GitHub credential fields.
type UserRepository interface {
	// EnsureUser creates an account row for id if none exists.
	EnsureUser(ctx context.Context, id string) error

	// GetUserByID returns apperror.ErrNotFound if no such user exists.
	GetUserByID(ctx context.Context, id string) (*model.User, error)

	// SaveGitHubLink writes the credential and profile fields and marks the
	// account connected. A nil link.SyncedAt leaves last_synced_at unchanged.
	SaveGitHubLink(ctx context.Context, userID string, link model.GitHubLink) error

	// RefreshGitHubLink is SaveGitHubLink for the end of a sync. It only
	// writes while the account is still connected with expectedToken as its
	// stored credential; otherwise (disconnected or relinked meanwhile) it
	// returns apperror.ErrConflict and changes nothing.
	RefreshGitHubLink(ctx context.Context, userID, expectedToken string, link model.GitHubLink) error

	// ClearGitHubCredential drops the stored credential and marks the account
	// disconnected in one statement. Profile fields and stats are kept.
	// Clearing an already-disconnected account is not an error.
	ClearGitHubCredential(ctx context.Context, userID string) error
}

// StatsRepository persists the aggregated summary, one row per user.
type StatsRepository interface {
	// UpsertStats inserts or replaces the row keyed by stats.UserID.
	UpsertStats(ctx context.Context, stats *model.AccountStats) error

	// GetStats returns apperror.ErrNotFound if no summary exists yet.
	GetStats(ctx context.Context, userID string) (*model.AccountStats, error)
}
