// Package store holds the gateway's collaborator stores: accounts with
// their provider credentials, and the ordered model-preference sequences
// consulted for "auto" model selection.
package store

import "time"

// Account pairs a provider with one user-supplied credential. Credential
// is an opaque provider-specific secret blob: a cookie string, a session
// key, or JSON carrying access/refresh tokens. The gateway only reads it,
// except when an OAuth-style adapter persists a rotated refresh token.
type Account struct {
	ID         string    `json:"id"`
	Provider   string    `json:"provider"`
	Email      string    `json:"email"`
	Credential string    `json:"credential"`
	CreatedAt  time.Time `json:"created_at"`
}

// Accounts is the credential store. Lookups return (nil, nil) when no
// account matches.
type Accounts interface {
	GetByID(id string) (*Account, error)
	FindByProviderEmail(provider, email string) (*Account, error)
	ListByProvider(provider string) ([]Account, error)
	List() ([]Account, error)
	Upsert(acct Account) error
}

// SequenceEntry is one row of the ordered model-preference list.
type SequenceEntry struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Sequence int    `json:"sequence"`
}

// ModelSequences exposes the user-configured model ordering. Best* return
// (nil, nil) when the list is empty.
type ModelSequences interface {
	BestOverall() (*SequenceEntry, error)
	BestForProvider(provider string) (*SequenceEntry, error)
}
