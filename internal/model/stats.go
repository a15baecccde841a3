package model

import "time"

// AccountStats is the aggregated GitHub summary for one user.
// There is at most one row per user; every sync replaces it.
type AccountStats struct {
	UserID           string                   `json:"userId"`
	TotalPublicRepos int                      `json:"totalPublicRepos"`
	TotalStars       int                      `json:"totalStars"`
	TotalForks       int                      `json:"totalForks"`
	Followers        int                      `json:"followers"`
	Following        int                      `json:"following"`
	TopLanguages     map[string]LanguageShare `json:"topLanguages"`
	TopRepos         []TopRepository          `json:"topRepos"`
	LastCalculatedAt time.Time                `json:"lastCalculatedAt"`
}

// LanguageShare is one entry of AccountStats.TopLanguages.
// Percentage is relative to the bytes of every processed repository, rounded
// to two decimals.
type LanguageShare struct {
	Bytes      int64   `json:"bytes"`
	Percentage float64 `json:"percentage"`
}

// TopRepository is a trimmed-down repository for display.
// Language and Description are nil when GitHub has none.
type TopRepository struct {
	Name        string  `json:"name"`
	URL         string  `json:"url"`
	Stars       int     `json:"stars"`
	Forks       int     `json:"forks"`
	Language    *string `json:"language"`
	Description *string `json:"description"`
}
