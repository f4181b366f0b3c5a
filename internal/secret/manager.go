// Package secret implements the secret lifecycle over a backend store.
//
// The Manager owns the identity scheme: callers use the names they
// chose, the vault sees sanitized identifiers, and the verbatim name
// travels in the original_name tag. Every mutation goes through a
// read-modify-write of the stored tag map so group membership and
// custom attributes survive writes that do not mention them.
package secret

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kvstash/kvstash/internal/backend"
	kverrors "github.com/kvstash/kvstash/internal/errors"
	"github.com/kvstash/kvstash/internal/logging"
	"github.com/kvstash/kvstash/internal/rotation"
	"github.com/kvstash/kvstash/internal/sanitize"
	"github.com/kvstash/kvstash/internal/secure"
	"github.com/kvstash/kvstash/internal/tags"
)

// Properties describes a secret or one of its versions, without the
// value.
type Properties struct {
	// Name is the caller-facing name: the original_name tag when
	// present, the vault identifier otherwise.
	Name string

	// BackendName is the sanitized vault identifier.
	BackendName string

	Version     string
	ContentType string
	Metadata    tags.Metadata
	Enabled     bool
	Created     time.Time
	Updated     time.Time
	Expires     time.Time

	Deleted     bool
	DeletedDate time.Time
}

// Manager coordinates name mapping, tag packing, and backend calls.
type Manager struct {
	store  backend.Store
	gen    rotation.Generator
	logger *logging.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithGenerator sets the value generator used by Rotate.
func WithGenerator(g rotation.Generator) Option {
	return func(m *Manager) { m.gen = g }
}

// NewManager creates a Manager over the given store.
func NewManager(store backend.Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		logger: logging.New(false, false),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.gen == nil {
		gen, err := rotation.NewRandom()
		if err != nil {
			// NewRandom only fails on out-of-range lengths; the
			// default length is in range.
			panic(err)
		}
		m.gen = gen
	}
	return m
}

// SetOptions carries the metadata of a write.
type SetOptions struct {
	Groups      []string
	Custom      map[string]string
	ContentType string
	Expires     time.Time

	// Replace discards stored groups and custom attributes instead of
	// merging into them.
	Replace bool
}

// Set stores value under name, creating a new version. Metadata merges
// into what is already stored unless Replace is set. Writing to a
// vault identifier owned by a different original name fails with
// ConflictError.
func (m *Manager) Set(ctx context.Context, name, value string, opts SetOptions) (Properties, error) {
	if name == "" {
		return Properties{}, kverrors.ValidationError{Field: "name", Message: "must not be empty"}
	}
	id := sanitize.Sanitize(name)
	m.logger.Debug("set %s (vault id %s)", logging.Secret(name), id)

	meta, err := m.currentMetadata(ctx, id, name)
	if err != nil {
		return Properties{}, err
	}

	meta.OriginalName = name
	if opts.Replace {
		meta.Groups = opts.Groups
		meta.Custom = opts.Custom
	} else {
		meta.Groups = mergeGroups(meta.Groups, opts.Groups)
		meta.Custom = mergeCustom(meta.Custom, opts.Custom)
	}
	if !opts.Expires.IsZero() || opts.Replace {
		meta.ExpiresAt = opts.Expires
	}

	encoded, err := tags.Encode(meta)
	if err != nil {
		return Properties{}, err
	}

	stored, err := m.store.SetSecret(ctx, id, backend.SetParams{
		Value:       value,
		ContentType: opts.ContentType,
		Tags:        encoded,
		Expires:     meta.ExpiresAt,
	})
	if err != nil {
		return Properties{}, err
	}
	return fromSecret(stored), nil
}

// Value is a fetched secret: its properties plus the payload.
type Value struct {
	Properties
	Value string
}

// Get fetches the named secret. With withValue false the payload is
// dropped before returning. A stored original name that contradicts
// the requested one is surfaced as ConflictError rather than silently
// returning another secret's value.
func (m *Manager) Get(ctx context.Context, name string, withValue bool) (Value, error) {
	if name == "" {
		return Value{}, kverrors.ValidationError{Field: "name", Message: "must not be empty"}
	}
	id := sanitize.Sanitize(name)

	stored, err := m.store.GetSecret(ctx, id, "")
	if err != nil {
		return Value{}, err
	}
	if err := checkOwnership(name, id, stored.Tags); err != nil {
		return Value{}, err
	}

	out := Value{Properties: fromSecret(stored)}
	if withValue {
		out.Value = stored.Value
	}
	return out, nil
}

// GetVersion fetches a specific immutable version of the named secret.
func (m *Manager) GetVersion(ctx context.Context, name, version string) (Value, error) {
	if name == "" {
		return Value{}, kverrors.ValidationError{Field: "name", Message: "must not be empty"}
	}
	id := sanitize.Sanitize(name)
	stored, err := m.store.GetSecret(ctx, id, version)
	if err != nil {
		return Value{}, err
	}
	if err := checkOwnership(name, id, stored.Tags); err != nil {
		return Value{}, err
	}
	return Value{Properties: fromSecret(stored), Value: stored.Value}, nil
}

// Rotate replaces the named secret's value with a freshly generated
// one, preserving all stored metadata. The generated bytes are wiped
// once handed to the backend.
func (m *Manager) Rotate(ctx context.Context, name string) (Properties, error) {
	value, err := m.gen.Generate()
	if err != nil {
		return Properties{}, fmt.Errorf("generating replacement value: %w", err)
	}
	defer secure.Wipe(value)

	return m.Set(ctx, name, string(value), SetOptions{})
}

// UpdateOptions carries a metadata-only change.
type UpdateOptions struct {
	Groups  []string
	Custom  map[string]string
	Expires time.Time

	// Replace discards stored groups and custom attributes instead of
	// merging into them.
	Replace bool
}

// Update changes the named secret's metadata in place. The value and
// version history are untouched; no new version is created.
func (m *Manager) Update(ctx context.Context, name string, opts UpdateOptions) (Properties, error) {
	if name == "" {
		return Properties{}, kverrors.ValidationError{Field: "name", Message: "must not be empty"}
	}
	id := sanitize.Sanitize(name)

	stored, err := m.store.GetSecret(ctx, id, "")
	if err != nil {
		return Properties{}, err
	}
	if err := checkOwnership(name, id, stored.Tags); err != nil {
		return Properties{}, err
	}

	meta := tags.Decode(stored.Tags)
	if meta.OriginalName == "" {
		meta.OriginalName = name
	}
	if opts.Replace {
		meta.Groups = opts.Groups
		meta.Custom = opts.Custom
		meta.ExpiresAt = opts.Expires
	} else {
		meta.Groups = mergeGroups(meta.Groups, opts.Groups)
		meta.Custom = mergeCustom(meta.Custom, opts.Custom)
		if !opts.Expires.IsZero() {
			meta.ExpiresAt = opts.Expires
		}
	}

	encoded, err := tags.Encode(meta)
	if err != nil {
		return Properties{}, err
	}

	updated, err := m.store.UpdateSecret(ctx, id, backend.UpdateParams{
		Tags:    encoded,
		Expires: meta.ExpiresAt,
	})
	if err != nil {
		return Properties{}, err
	}
	return fromSecret(updated), nil
}

// Versions lists every version of the named secret, oldest first. The
// listing is walked to the end; a failed page fails the whole call.
func (m *Manager) Versions(ctx context.Context, name string) ([]Properties, error) {
	if name == "" {
		return nil, kverrors.ValidationError{Field: "name", Message: "must not be empty"}
	}
	id := sanitize.Sanitize(name)
	items, err := m.store.ListVersions(ctx, id)
	if err != nil {
		return nil, err
	}

	out := make([]Properties, 0, len(items))
	newest := -1
	for i, it := range items {
		if newest < 0 || it.Attributes.Created.After(items[newest].Attributes.Created) {
			newest = i
		}
		out = append(out, fromItem(it))
	}
	// Ownership is judged on the current version's tags.
	if newest >= 0 {
		if err := checkOwnership(name, id, items[newest].Tags); err != nil {
			return nil, err
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Created.Before(out[j].Created)
	})
	return out, nil
}

// Rollback makes the value of an earlier version current again by
// writing it as a new version. History stays append-only: the target
// version is read, never promoted, and current metadata is preserved.
func (m *Manager) Rollback(ctx context.Context, name, version string) (Properties, error) {
	if name == "" {
		return Properties{}, kverrors.ValidationError{Field: "name", Message: "must not be empty"}
	}
	if version == "" {
		return Properties{}, kverrors.ValidationError{Field: "version", Message: "must not be empty"}
	}
	id := sanitize.Sanitize(name)

	// Carry the current version's tags forward, not the target's:
	// rollback restores the value, not the metadata as of then.
	current, err := m.store.GetSecret(ctx, id, "")
	if err != nil {
		return Properties{}, err
	}
	if err := checkOwnership(name, id, current.Tags); err != nil {
		return Properties{}, err
	}

	target, err := m.store.GetSecret(ctx, id, version)
	if err != nil {
		return Properties{}, err
	}

	stored, err := m.store.SetSecret(ctx, id, backend.SetParams{
		Value:       target.Value,
		ContentType: target.ContentType,
		Tags:        current.Tags,
	})
	if err != nil {
		return Properties{}, err
	}
	m.logger.Info("rolled back %s to the value of version %s", id, version)
	return fromSecret(stored), nil
}

// ListOptions filters a listing.
type ListOptions struct {
	// IncludeDeleted appends soft-deleted secrets to the listing.
	IncludeDeleted bool

	// Group keeps only members of the named group.
	Group string
}

// List returns every secret in the vault with decoded identities.
// Soft-deleted secrets are excluded unless requested.
func (m *Manager) List(ctx context.Context, opts ListOptions) ([]Properties, error) {
	items, err := m.store.ListSecrets(ctx)
	if err != nil {
		return nil, err
	}
	if opts.IncludeDeleted {
		deleted, err := m.store.ListDeletedSecrets(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, deleted...)
	}

	out := make([]Properties, 0, len(items))
	for _, it := range items {
		p := fromItem(it)
		if opts.Group != "" && !p.Metadata.HasGroup(opts.Group) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Delete soft-deletes the named secret. It stays recoverable until the
// retention window lapses or it is purged. The stored original name is
// verified first so a colliding name cannot delete another name's
// secret.
func (m *Manager) Delete(ctx context.Context, name string) error {
	if name == "" {
		return kverrors.ValidationError{Field: "name", Message: "must not be empty"}
	}
	id := sanitize.Sanitize(name)
	if name != id {
		stored, err := m.store.GetSecret(ctx, id, "")
		if err != nil {
			return err
		}
		if err := checkOwnership(name, id, stored.Tags); err != nil {
			return err
		}
	}
	return m.store.DeleteSecret(ctx, id)
}

// Recover moves a soft-deleted secret back to the active state with its
// versions and metadata intact.
func (m *Manager) Recover(ctx context.Context, name string) (Properties, error) {
	if name == "" {
		return Properties{}, kverrors.ValidationError{Field: "name", Message: "must not be empty"}
	}
	id := sanitize.Sanitize(name)
	if err := m.checkDeletedOwnership(ctx, name, id); err != nil {
		return Properties{}, err
	}
	stored, err := m.store.RecoverSecret(ctx, id)
	if err != nil {
		return Properties{}, err
	}
	return fromSecret(stored), nil
}

// Purge permanently removes a soft-deleted secret. There is no way
// back from this one, so ownership is verified like on Delete.
func (m *Manager) Purge(ctx context.Context, name string) error {
	if name == "" {
		return kverrors.ValidationError{Field: "name", Message: "must not be empty"}
	}
	id := sanitize.Sanitize(name)
	if err := m.checkDeletedOwnership(ctx, name, id); err != nil {
		return err
	}
	return m.store.PurgeSecret(ctx, id)
}

// checkDeletedOwnership verifies the stored original name of a
// soft-deleted secret before a recover or purge acts on it.
func (m *Manager) checkDeletedOwnership(ctx context.Context, name, id string) error {
	if name == id {
		return nil
	}
	item, err := m.store.GetDeletedSecret(ctx, id)
	if err != nil {
		return err
	}
	return checkOwnership(name, id, item.Tags)
}

// currentMetadata reads the stored tag map ahead of a write. A missing
// secret yields empty metadata; a stored original name owned by a
// different caller-facing name is a conflict.
func (m *Manager) currentMetadata(ctx context.Context, id, name string) (tags.Metadata, error) {
	stored, err := m.store.GetSecret(ctx, id, "")
	if err != nil {
		var nf kverrors.NotFoundError
		if errors.As(err, &nf) {
			return tags.Metadata{}, nil
		}
		return tags.Metadata{}, err
	}
	if err := checkOwnership(name, id, stored.Tags); err != nil {
		return tags.Metadata{}, err
	}
	return tags.Decode(stored.Tags), nil
}

// checkOwnership detects two distinct original names colliding on one
// sanitized identifier. Addressing a secret by its vault identifier
// directly is always allowed.
func checkOwnership(name, id string, stored map[string]string) error {
	if name == id {
		return nil
	}
	original := tags.Decode(stored).OriginalName
	if original == "" || original == name {
		return nil
	}
	return kverrors.ConflictError{
		Name:    name,
		Message: fmt.Sprintf("vault identifier %q already belongs to %q", id, original),
	}
}

func mergeGroups(stored, added []string) []string {
	if len(added) == 0 {
		return stored
	}
	seen := make(map[string]struct{}, len(stored))
	out := make([]string, 0, len(stored)+len(added))
	for _, g := range stored {
		seen[g] = struct{}{}
		out = append(out, g)
	}
	for _, g := range added {
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}

func mergeCustom(stored, added map[string]string) map[string]string {
	if len(added) == 0 {
		return stored
	}
	out := make(map[string]string, len(stored)+len(added))
	for k, v := range stored {
		out[k] = v
	}
	for k, v := range added {
		out[k] = v
	}
	return out
}

func displayName(vaultName string, meta tags.Metadata) string {
	if meta.OriginalName != "" {
		return meta.OriginalName
	}
	return vaultName
}

func fromSecret(s backend.Secret) Properties {
	meta := tags.Decode(s.Tags)
	return Properties{
		Name:        displayName(s.Name, meta),
		BackendName: s.Name,
		Version:     s.Version,
		ContentType: s.ContentType,
		Metadata:    meta,
		Enabled:     s.Attributes.Enabled,
		Created:     s.Attributes.Created,
		Updated:     s.Attributes.Updated,
		Expires:     s.Attributes.Expires,
	}
}

func fromItem(it backend.SecretItem) Properties {
	meta := tags.Decode(it.Tags)
	return Properties{
		Name:        displayName(it.Name, meta),
		BackendName: it.Name,
		Version:     it.Version,
		Metadata:    meta,
		Enabled:     it.Attributes.Enabled,
		Created:     it.Attributes.Created,
		Updated:     it.Attributes.Updated,
		Expires:     it.Attributes.Expires,
		Deleted:     it.Deleted,
		DeletedDate: it.DeletedDate,
	}
}
