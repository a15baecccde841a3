// Package model defines the data structures used throughout the application.
package model

import "time"

// User is an account of this service together with its linked GitHub identity.
//
// The account itself exists before any GitHub link: ID is our own xid, and
// the JWT session carries it in the "sub" claim. The GitHub* fields are only
// meaningful while GitHubConnected is true.
//
// CONNECTION INVARIANT:
// GitHubConnected == true implies EncryptedToken != nil and decryptable with
// the current ENCRYPTION_KEY. Whenever GitHub rejects the token (or it can no
// longer be decrypted) the repository clears EncryptedToken and flips
// GitHubConnected in the same UPDATE, so no reader ever observes a
// "connected" user without a usable credential.
//
// WHY *string FOR EncryptedToken?
// NULL in the DB means "no credential", which is different from an empty
// string (a corrupted one). A pointer keeps that distinction in Go.
type User struct {
	ID              string     `json:"id"`
	GitHubID        int64      `json:"githubId,omitempty"` // GitHub's numeric user id, 0 if never linked
	GitHubLogin     string     `json:"githubLogin,omitempty"`
	GitHubConnected bool       `json:"githubConnected"`
	AvatarURL       string     `json:"avatarUrl,omitempty"`
	ProfileURL      string     `json:"profileUrl,omitempty"`
	EncryptedToken  *string    `json:"-"` // "hex(iv):hex(ciphertext)", never serialized
	LastSyncedAt    *time.Time `json:"lastSyncedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// GitHubLink is the set of credential and profile fields written when an
// account is (re)linked or after a successful sync.
type GitHubLink struct {
	GitHubID       int64
	Login          string
	AvatarURL      string
	ProfileURL     string
	EncryptedToken string
	// SyncedAt is nil on the initial link; a sync sets it.
	SyncedAt *time.Time
}

// ConnectionStatus is the read model behind GET /integrations/status.
type ConnectionStatus struct {
	Connected    bool       `json:"connected"`
	Login        string     `json:"login,omitempty"`
	AvatarURL    string     `json:"avatarUrl,omitempty"`
	ProfileURL   string     `json:"profileUrl,omitempty"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
}
