// Package backend implements the vault's authenticated REST surface.
//
// The Client maps each logical secret operation onto one Key Vault
// data-plane call with retry, backoff, and cancellation, and maps
// transport and HTTP failures onto the typed error taxonomy. It knows
// nothing about name sanitization or tag packing; callers hand it
// vault-compliant identifiers and fully encoded tag maps.
package backend

import (
	"context"
	"time"
)

// Store is the capability surface a secret backend must provide. The
// Azure Key Vault client is the one implementation today; additional
// backends implement the same interface and are selected at
// construction time.
type Store interface {
	SetSecret(ctx context.Context, name string, params SetParams) (Secret, error)
	UpdateSecret(ctx context.Context, name string, params UpdateParams) (Secret, error)
	GetSecret(ctx context.Context, name, version string) (Secret, error)
	ListSecrets(ctx context.Context) ([]SecretItem, error)
	ListVersions(ctx context.Context, name string) ([]SecretItem, error)
	DeleteSecret(ctx context.Context, name string) error
	GetDeletedSecret(ctx context.Context, name string) (SecretItem, error)
	ListDeletedSecrets(ctx context.Context) ([]SecretItem, error)
	RecoverSecret(ctx context.Context, name string) (Secret, error)
	PurgeSecret(ctx context.Context, name string) error
}

// Attributes are the backend-managed properties of a secret or version.
type Attributes struct {
	Enabled bool
	Created time.Time
	Updated time.Time
	Expires time.Time
}

// Secret is a stored secret as returned by get, set, and recover calls.
type Secret struct {
	// Name is the vault identifier (sanitized form).
	Name string

	// Version is the backend-assigned opaque version identifier.
	Version string

	// Value is the secret payload. Empty for calls that do not return
	// values (recover). Versions are immutable once created.
	Value string

	ContentType string
	Tags        map[string]string
	Attributes  Attributes
}

// SecretItem is one entry of a listing (secrets, versions, or deleted
// secrets). Listings never carry values.
type SecretItem struct {
	Name       string
	Version    string // set for version listings only
	Tags       map[string]string
	Attributes Attributes

	// Deleted reports that the item came from the deleted-secrets
	// listing and is recoverable until purged.
	Deleted     bool
	DeletedDate time.Time
}

// SetParams describes a create-or-update call. Every set creates a new
// version; the backend has no way to mutate an existing one's value.
type SetParams struct {
	Value       string
	ContentType string
	Tags        map[string]string
	Enabled     *bool
	Expires     time.Time
}

// UpdateParams describes an in-place attribute update of the current
// version. Values are immutable; only tags and attributes change, and
// no new version is created.
type UpdateParams struct {
	Tags    map[string]string
	Enabled *bool
	Expires time.Time
}
