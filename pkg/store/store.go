// Package store defines the persistence collaborators the session manager
// consumes. Hosts and credentials are owned by the panel's CRUD layer; this
// package only reads them by ID and writes back collection results.
package store

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrHostNotFound is returned when no host record exists for an ID.
	ErrHostNotFound = errors.New("host not found")
	// ErrCredentialNotFound is returned when no credential record exists for an ID.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrUnauthorized is returned when a caller token does not verify.
	ErrUnauthorized = errors.New("unauthorized")
)

// CredentialKind selects the authentication material a credential carries.
type CredentialKind string

const (
	KindPassword CredentialKind = "password"
	KindSSHKey   CredentialKind = "ssh_key"
)

// Host is a managed target machine.
type Host struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Addr string `json:"host"`
	Port int    `json:"port,omitempty"`

	// JumpHostID designates an intermediary host. Nonzero values make every
	// connection attempt fail fast: multi-hop routing is not implemented.
	JumpHostID int64 `json:"jump_host_id,omitempty"`

	Status string          `json:"status,omitempty"`
	Facts  json.RawMessage `json:"os_info,omitempty"`
}

// Credential is stored authentication material for one principal.
//
// Exactly one secret representation is authoritative. For ssh_key kind the
// encrypted blob, when present, holds private key content rather than a
// password; KeyPath points at a key file on the manager's filesystem.
type Credential struct {
	ID              int64          `json:"id"`
	Kind            CredentialKind `json:"credential_type"`
	Username        string         `json:"username"`
	EncryptedSecret string         `json:"password_encrypted,omitempty"`
	KeyPath         string         `json:"ssh_key_path,omitempty"`
}

// Caller identifies an authenticated API user.
type Caller struct {
	Name string `json:"name"`
}

// HostStore reads host records and persists collection side effects.
type HostStore interface {
	GetHost(ctx context.Context, id int64) (*Host, error)
	SetHostStatus(ctx context.Context, id int64, status string) error
	SetHostFacts(ctx context.Context, id int64, facts json.RawMessage) error
}

// CredentialStore reads credential records. The session manager never
// mutates credentials.
type CredentialStore interface {
	GetCredential(ctx context.Context, id int64) (*Credential, error)
}

// TokenVerifier maps an opaque caller token to an identity.
type TokenVerifier interface {
	Verify(token string) (*Caller, error)
}
