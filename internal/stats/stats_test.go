package stats

import (
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/devstats/internal/github"
)

func strPtr(s string) *string { return &s }

func TestAggregateLanguages_Empty(t *testing.T) {
	tests := []struct {
		name string
		in   []github.LanguageBytes
	}{
		{name: "nil", in: nil},
		{name: "no maps", in: []github.LanguageBytes{}},
		{name: "one empty map", in: []github.LanguageBytes{{}}},
		{name: "several empty maps", in: []github.LanguageBytes{{}, {}, nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AggregateLanguages(tt.in)
			assert.NotNil(t, got)
			assert.Empty(t, got)
		})
	}
}

func TestAggregateLanguages_SumsAcrossRepositories(t *testing.T) {
	got := AggregateLanguages([]github.LanguageBytes{
		{"JavaScript": 300, "TypeScript": 100},
		{"JavaScript": 600},
	})

	require.Len(t, got, 2)
	assert.Equal(t, LanguageStat{Name: "JavaScript", Bytes: 900, Percentage: 90.00}, got[0])
	assert.Equal(t, LanguageStat{Name: "TypeScript", Bytes: 100, Percentage: 10.00}, got[1])
}

func TestAggregateLanguages_RoundsToTwoDecimals(t *testing.T) {
	got := AggregateLanguages([]github.LanguageBytes{{"Go": 1, "Rust": 2}})

	require.Len(t, got, 2)
	assert.Equal(t, "Rust", got[0].Name)
	assert.Equal(t, 66.67, got[0].Percentage)
	assert.Equal(t, 33.33, got[1].Percentage)
}

func TestAggregateLanguages_ZeroByteTotal(t *testing.T) {
	got := AggregateLanguages([]github.LanguageBytes{{"Go": 0, "C": 0}})

	require.Len(t, got, 2)
	for _, l := range got {
		assert.Zero(t, l.Percentage)
	}
}

func TestAggregateLanguages_TiesKeepFirstSeenOrder(t *testing.T) {
	got := AggregateLanguages([]github.LanguageBytes{
		{"Zig": 50},
		{"Ada": 50, "Odin": 50},
	})

	names := make([]string, len(got))
	for i, l := range got {
		names[i] = l.Name
	}
	assert.Equal(t, []string{"Zig", "Ada", "Odin"}, names)

	// Same input, same output, every time.
	for i := 0; i < 20; i++ {
		assert.Equal(t, got, AggregateLanguages([]github.LanguageBytes{
			{"Zig": 50},
			{"Ada": 50, "Odin": 50},
		}))
	}
}

func TestAggregateLanguages_KeepsTopTen(t *testing.T) {
	m := github.LanguageBytes{}
	for i := 0; i < 15; i++ {
		m[fmt.Sprintf("Lang%02d", i)] = int64((i + 1) * 1000)
	}

	got := AggregateLanguages([]github.LanguageBytes{m})

	require.Len(t, got, MaxLanguages)
	assert.Equal(t, "Lang14", got[0].Name)
	assert.Equal(t, "Lang05", got[MaxLanguages-1].Name)
}

func TestAggregateLanguages_PercentagesSumToHundred(t *testing.T) {
	inputs := [][]github.LanguageBytes{
		{{"Go": 1}},
		{{"Go": 123456, "Python": 7890, "Shell": 12}},
		{{"JavaScript": 300, "TypeScript": 100}, {"JavaScript": 600}},
		{{"A": 1, "B": 1, "C": 1}},
		{{"Go": 999}, {"Rust": 1}, {"HTML": 5000, "CSS": 250}},
	}

	for i, in := range inputs {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			got := AggregateLanguages(in)
			var sum float64
			for _, l := range got {
				assert.GreaterOrEqual(t, l.Percentage, 0.0)
				assert.LessOrEqual(t, l.Percentage, 100.0)
				sum += l.Percentage
			}
			// Each entry is rounded independently, so allow half a cent per entry.
			tolerance := math.Max(0.01, 0.005*float64(len(got)))
			assert.InDelta(t, 100.0, sum, tolerance)
		})
	}
}

// Rounding each share on its own is not renormalized: seven equal languages
// are 14.29% each and add up to 100.03.
func TestAggregateLanguages_RoundingDriftIsNotRedistributed(t *testing.T) {
	m := github.LanguageBytes{}
	for _, name := range []string{"Go", "Rust", "Zig", "C", "Odin", "Nim", "Ada"} {
		m[name] = 1
	}

	got := AggregateLanguages([]github.LanguageBytes{m})

	require.Len(t, got, 7)
	var sum float64
	for _, l := range got {
		assert.Equal(t, 14.29, l.Percentage)
		sum += l.Percentage
	}
	assert.InDelta(t, 100.03, sum, 1e-9)
}

func TestSelectTopRepositories_SortsByStars(t *testing.T) {
	stars := []int{5, 10, 1, 20, 3, 7, 2, 15}
	repos := make([]github.Repository, len(stars))
	for i, s := range stars {
		repos[i] = github.Repository{Name: fmt.Sprintf("r%d", i), Stars: s}
	}

	got := SelectTopRepositories(repos)

	gotStars := make([]int, len(got))
	for i, r := range got {
		gotStars[i] = r.Stars
	}
	assert.Equal(t, []int{20, 15, 10, 7, 5, 3}, gotStars)
	assert.Equal(t, 5, repos[0].Stars, "input must not be reordered")
}

func TestSelectTopRepositories_StableOnEqualStars(t *testing.T) {
	repos := []github.Repository{
		{Name: "first", Stars: 4},
		{Name: "second", Stars: 4},
		{Name: "big", Stars: 9},
		{Name: "third", Stars: 4},
	}

	got := SelectTopRepositories(repos)

	require.Len(t, got, 4)
	assert.Equal(t, []string{"big", "first", "second", "third"},
		[]string{got[0].Name, got[1].Name, got[2].Name, got[3].Name})
}

func TestSelectTopRepositories_Descriptions(t *testing.T) {
	long := strings.Repeat("é", 150)
	exact := strings.Repeat("x", 100)

	got := SelectTopRepositories([]github.Repository{
		{Name: "long", Stars: 3, Description: strPtr(long)},
		{Name: "exact", Stars: 2, Description: strPtr(exact)},
		{Name: "none", Stars: 1, Description: nil},
	})

	require.Len(t, got, 3)
	require.NotNil(t, got[0].Description)
	assert.Equal(t, strings.Repeat("é", 100)+"...", *got[0].Description)
	assert.Equal(t, exact, *got[1].Description)
	assert.Nil(t, got[2].Description)
}

func TestSelectTopRepositories_MapsFields(t *testing.T) {
	got := SelectTopRepositories([]github.Repository{{
		Name:     "hello",
		HTMLURL:  "https://github.com/octocat/hello",
		Stars:    12,
		Forks:    4,
		Language: strPtr("Go"),
	}})

	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Name)
	assert.Equal(t, "https://github.com/octocat/hello", got[0].URL)
	assert.Equal(t, 4, got[0].Forks)
	assert.Equal(t, "Go", *got[0].Language)
}

func TestSelectTopRepositories_Nil(t *testing.T) {
	assert.Nil(t, SelectTopRepositories(nil))
	assert.Empty(t, SelectTopRepositories([]github.Repository{}))
}

func TestTopByStars(t *testing.T) {
	repos := []github.Repository{{Name: "a", Stars: 1}, {Name: "b", Stars: 3}, {Name: "c", Stars: 2}}

	got := TopByStars(repos, 2)

	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Name)
	assert.Equal(t, "c", got[1].Name)
	assert.Len(t, TopByStars(repos, 50), 3)
}

func TestSummarize(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	profile := &github.Profile{Login: "octocat", PublicRepos: 3, Followers: 10, Following: 2}
	repos := []github.Repository{
		{Name: "a", Stars: 5, Forks: 1},
		{Name: "b", Stars: 7, Forks: 2},
		{Name: "c", Stars: 0, Forks: 0},
	}
	langs := []github.LanguageBytes{{"Go": 750}, {"Go": 250, "Shell": 0}, {}}

	s := Summarize("u1", profile, repos, langs, now)

	assert.Equal(t, "u1", s.UserID)
	assert.Equal(t, 3, s.TotalPublicRepos)
	assert.Equal(t, 12, s.TotalStars)
	assert.Equal(t, 3, s.TotalForks)
	assert.Equal(t, 10, s.Followers)
	assert.Equal(t, 2, s.Following)
	assert.Equal(t, now, s.LastCalculatedAt)
	require.Contains(t, s.TopLanguages, "Go")
	assert.Equal(t, int64(1000), s.TopLanguages["Go"].Bytes)
	assert.Equal(t, 100.0, s.TopLanguages["Go"].Percentage)
	require.Len(t, s.TopRepos, 3)
	assert.Equal(t, "b", s.TopRepos[0].Name)
}

func TestSummarize_NoRepositories(t *testing.T) {
	s := Summarize("u1", &github.Profile{}, nil, nil, time.Now())

	assert.NotNil(t, s.TopRepos)
	assert.Empty(t, s.TopRepos)
	assert.Empty(t, s.TopLanguages)
}
