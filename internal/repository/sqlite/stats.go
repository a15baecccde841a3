package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sakif/devstats/internal/apperror"
	"github.com/sakif/devstats/internal/model"
	"github.com/sakif/devstats/internal/repository"
)

var _ repository.StatsRepository = (*DB)(nil)

// UpsertStats writes the summary for stats.UserID, replacing any previous one.
//
// ON CONFLICT ... DO UPDATE keeps the row (and its primary key) in place
// instead of delete+insert, so running the same sync twice leaves exactly one
// row with the latest values.
func (db *DB) UpsertStats(ctx context.Context, stats *model.AccountStats) error {
	languages := stats.TopLanguages
	if languages == nil {
		languages = map[string]model.LanguageShare{}
	}
	langJSON, err := json.Marshal(languages)
	if err != nil {
		return fmt.Errorf("sqlite: encoding top languages: %w", err)
	}

	repos := stats.TopRepos
	if repos == nil {
		repos = []model.TopRepository{}
	}
	reposJSON, err := json.Marshal(repos)
	if err != nil {
		return fmt.Errorf("sqlite: encoding top repos: %w", err)
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO github_stats (
			user_id, total_public_repos, total_stars, total_forks,
			followers, following, top_languages, top_repos, last_calculated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			total_public_repos = excluded.total_public_repos,
			total_stars        = excluded.total_stars,
			total_forks        = excluded.total_forks,
			followers          = excluded.followers,
			following          = excluded.following,
			top_languages      = excluded.top_languages,
			top_repos          = excluded.top_repos,
			last_calculated_at = excluded.last_calculated_at`,
		stats.UserID,
		stats.TotalPublicRepos,
		stats.TotalStars,
		stats.TotalForks,
		stats.Followers,
		stats.Following,
		string(langJSON),
		string(reposJSON),
		stats.LastCalculatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: upserting stats for user %s: %w", stats.UserID, err)
	}
	return nil
}

// GetStats returns the persisted summary or apperror.ErrNotFound.
func (db *DB) GetStats(ctx context.Context, userID string) (*model.AccountStats, error) {
	var (
		s         model.AccountStats
		langJSON  string
		reposJSON string
	)

	err := db.conn.QueryRowContext(ctx,
		`SELECT user_id, total_public_repos, total_stars, total_forks,
		        followers, following, top_languages, top_repos, last_calculated_at
		 FROM github_stats WHERE user_id = ?`,
		userID,
	).Scan(
		&s.UserID,
		&s.TotalPublicRepos,
		&s.TotalStars,
		&s.TotalForks,
		&s.Followers,
		&s.Following,
		&langJSON,
		&reposJSON,
		&s.LastCalculatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("stats", userID)
		}
		return nil, fmt.Errorf("sqlite: getting stats for user %s: %w", userID, err)
	}

	if err := json.Unmarshal([]byte(langJSON), &s.TopLanguages); err != nil {
		return nil, fmt.Errorf("sqlite: decoding top languages for user %s: %w", userID, err)
	}
	if err := json.Unmarshal([]byte(reposJSON), &s.TopRepos); err != nil {
		return nil, fmt.Errorf("sqlite: decoding top repos for user %s: %w", userID, err)
	}
	return &s, nil
}
