// Package stats turns raw GitHub data into the AccountStats summary.
//
// Everything here is a pure function: no I/O, no clock (the caller passes
// "now"), no logging. That keeps the aggregation rules trivially testable and
// lets the sync orchestrator own every side effect.
package stats

import (
	"math"
	"slices"
	"sort"
	"time"

	"github.com/sakif/devstats/internal/github"
	"github.com/sakif/devstats/internal/model"
)

const (
	// MaxLanguages is how many languages survive into the summary.
	MaxLanguages = 10
	// MaxTopRepos is how many repositories are shown.
	MaxTopRepos = 6
	// MaxDescriptionRunes is the description length before truncation.
	MaxDescriptionRunes = 100
)

// LanguageStat is one aggregated language.
type LanguageStat struct {
	Name       string
	Bytes      int64
	Percentage float64
}

// AggregateLanguages sums bytes per language across every map and returns
// the top MaxLanguages by share, largest first.
//
// ORDERING:
// Map iteration order is random in Go, so each input map is walked in sorted
// key order. A language's position among equal percentages is therefore the
// position it was first seen in (input map order, then name), and the result
// is the same on every run. The sort is stable to preserve exactly that.
//
// Percentages are computed against the total of ALL languages, including the
// ones cut by the top-N limit, so the kept entries may sum to less than 100.
func AggregateLanguages(maps []github.LanguageBytes) []LanguageStat {
	totals := make(map[string]int64)
	var order []string
	var total int64

	for _, m := range maps {
		names := make([]string, 0, len(m))
		for name := range m {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			if _, seen := totals[name]; !seen {
				order = append(order, name)
			}
			totals[name] += m[name]
			total += m[name]
		}
	}

	result := make([]LanguageStat, 0, len(order))
	for _, name := range order {
		result = append(result, LanguageStat{
			Name:       name,
			Bytes:      totals[name],
			Percentage: percentage(totals[name], total),
		})
	}

	slices.SortStableFunc(result, func(a, b LanguageStat) int {
		switch {
		case a.Percentage > b.Percentage:
			return -1
		case a.Percentage < b.Percentage:
			return 1
		default:
			return 0
		}
	})

	if len(result) > MaxLanguages {
		result = result[:MaxLanguages]
	}
	return result
}

// SelectTopRepositories returns the MaxTopRepos most-starred repositories,
// most stars first; repositories with equal stars keep their input order.
// The input slice is not modified.
func SelectTopRepositories(repos []github.Repository) []model.TopRepository {
	if repos == nil {
		return nil
	}

	sorted := slices.Clone(repos)
	slices.SortStableFunc(sorted, func(a, b github.Repository) int {
		return b.Stars - a.Stars
	})
	if len(sorted) > MaxTopRepos {
		sorted = sorted[:MaxTopRepos]
	}

	top := make([]model.TopRepository, 0, len(sorted))
	for _, r := range sorted {
		top = append(top, model.TopRepository{
			Name:        r.Name,
			URL:         r.HTMLURL,
			Stars:       r.Stars,
			Forks:       r.Forks,
			Language:    r.Language,
			Description: truncateDescription(r.Description),
		})
	}
	return top
}

// Summarize builds the full AccountStats for userID.
//
// repos is every public repository fetched; languageMaps holds one entry per
// processed repository (possibly empty for ones whose fetch failed).
func Summarize(userID string, profile *github.Profile, repos []github.Repository, languageMaps []github.LanguageBytes, now time.Time) model.AccountStats {
	s := model.AccountStats{
		UserID:           userID,
		TotalPublicRepos: profile.PublicRepos,
		Followers:        profile.Followers,
		Following:        profile.Following,
		TopLanguages:     make(map[string]model.LanguageShare),
		TopRepos:         SelectTopRepositories(repos),
		LastCalculatedAt: now.UTC(),
	}
	if s.TopRepos == nil {
		s.TopRepos = []model.TopRepository{}
	}

	for _, r := range repos {
		s.TotalStars += r.Stars
		s.TotalForks += r.Forks
	}

	for _, l := range AggregateLanguages(languageMaps) {
		s.TopLanguages[l.Name] = model.LanguageShare{Bytes: l.Bytes, Percentage: l.Percentage}
	}
	return s
}

// TopByStars returns at most n repositories with the most stars, keeping
// input order among equal star counts. Used to cap how many repositories a
// sync fetches languages for.
func TopByStars(repos []github.Repository, n int) []github.Repository {
	sorted := slices.Clone(repos)
	slices.SortStableFunc(sorted, func(a, b github.Repository) int {
		return b.Stars - a.Stars
	})
	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func percentage(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(part) / float64(total) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func truncateDescription(d *string) *string {
	if d == nil {
		return nil
	}
	runes := []rune(*d)
	if len(runes) <= MaxDescriptionRunes {
		return d
	}
	t := string(runes[:MaxDescriptionRunes]) + "..."
	return &t
}
