package github

import "time"

// Profile is the portion of GET /user we keep. GitHub returns a much larger
// object; only these fields are mapped onto the owning user.
//
// GitHub API docs: https://docs.github.com/en/rest/users/users#get-the-authenticated-user
type Profile struct {
	ID          int64  `json:"id"`    // stable numeric id, never changes
	Login       string `json:"login"` // handle, e.g. "octocat"
	AvatarURL   string `json:"avatar_url"`
	HTMLURL     string `json:"html_url"`
	PublicRepos int    `json:"public_repos"`
	Followers   int    `json:"followers"`
	Following   int    `json:"following"`
}

// Owner is the nested owner object on a repository.
type Owner struct {
	Login string `json:"login"`
}

// Repository is one entry from the repository listing.
// Description and Language are pointers because GitHub sends null for them.
type Repository struct {
	Name        string    `json:"name"`
	FullName    string    `json:"full_name"`
	Owner       Owner     `json:"owner"`
	HTMLURL     string    `json:"html_url"`
	Stars       int       `json:"stargazers_count"`
	Forks       int       `json:"forks_count"`
	Language    *string   `json:"language"`
	Description *string   `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
	Private     bool      `json:"private"`
}

// LanguageBytes maps a language name to the number of bytes written in it,
// exactly as GET /repos/{owner}/{repo}/languages returns it.
type LanguageBytes map[string]int64

// Quota is the core REST budget from GET /rate_limit.
type Quota struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
}

type rateLimitResponse struct {
	Resources struct {
		Core struct {
			Limit     int   `json:"limit"`
			Remaining int   `json:"remaining"`
			Reset     int64 `json:"reset"`
		} `json:"core"`
	} `json:"resources"`
}
