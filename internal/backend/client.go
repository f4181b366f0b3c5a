package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/kvstash/kvstash/internal/auth"
	kverrors "github.com/kvstash/kvstash/internal/errors"
	"github.com/kvstash/kvstash/internal/logging"
)

const apiVersion = "7.4"

// VaultURL builds the data-plane endpoint for a vault name.
func VaultURL(vaultName string) string {
	return fmt.Sprintf("https://%s.vault.azure.net", vaultName)
}

// Client talks to one Key Vault. It implements Store.
type Client struct {
	vaultURL string
	tokens   *auth.TokenSource
	http     *http.Client
	retry    RetryPolicy
	scope    string
	logger   *logging.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client (for tests and custom
// transports).
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithRetryPolicy overrides the retry policy.
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(c *Client) { c.retry = p }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithScope overrides the token audience (for tests).
func WithScope(scope string) ClientOption {
	return func(c *Client) { c.scope = scope }
}

// NewClient creates a client for the vault at vaultURL.
func NewClient(vaultURL string, tokens *auth.TokenSource, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(vaultURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, kverrors.ValidationError{
			Field:   "vault_url",
			Message: fmt.Sprintf("invalid vault URL %q, expected https://<name>.vault.azure.net", vaultURL),
		}
	}

	c := &Client{
		vaultURL: strings.TrimSuffix(vaultURL, "/"),
		tokens:   tokens,
		http: &http.Client{
			Timeout: 2 * time.Minute,
		},
		retry:  DefaultRetryPolicy(),
		scope:  auth.DefaultScope,
		logger: logging.New(false, false),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// endpoint builds an API URL for the given path segments.
func (c *Client) endpoint(segments ...string) string {
	p := path.Join(segments...)
	return fmt.Sprintf("%s/%s?api-version=%s", c.vaultURL, p, apiVersion)
}

// Wire shapes of the vault's JSON payloads. Timestamps are Unix
// seconds; the version identifier is the last segment of the id URL.

type wireAttributes struct {
	Enabled *bool `json:"enabled,omitempty"`
	Created int64 `json:"created,omitempty"`
	Updated int64 `json:"updated,omitempty"`
	Expires int64 `json:"exp,omitempty"`
}

type wireBundle struct {
	ID          string            `json:"id"`
	Value       string            `json:"value,omitempty"`
	ContentType string            `json:"contentType,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	Attributes  *wireAttributes   `json:"attributes,omitempty"`
}

// updateAttributes is the attribute block of a PATCH. Expires has no
// omitempty so a nil pointer serializes as an explicit null.
type updateAttributes struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Expires *int64 `json:"exp"`
}

type wireItem struct {
	ID          string            `json:"id"`
	Tags        map[string]string `json:"tags,omitempty"`
	Attributes  *wireAttributes   `json:"attributes,omitempty"`
	DeletedDate int64             `json:"deletedDate,omitempty"`
	RecoveryID  string            `json:"recoveryId,omitempty"`
}

type wirePage struct {
	Value    []wireItem `json:"value"`
	NextLink string     `json:"nextLink"`
}

type setRequest struct {
	Value       string            `json:"value"`
	ContentType string            `json:"contentType,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	Attributes  *wireAttributes   `json:"attributes,omitempty"`
}

// SetSecret creates a new version of the named secret. The previous
// current version, if any, remains in the version history untouched.
func (c *Client) SetSecret(ctx context.Context, name string, params SetParams) (Secret, error) {
	body := setRequest{
		Value:       params.Value,
		ContentType: params.ContentType,
		Tags:        params.Tags,
	}
	attrs := &wireAttributes{Enabled: params.Enabled}
	if !params.Expires.IsZero() {
		attrs.Expires = params.Expires.Unix()
	}
	if attrs.Enabled != nil || attrs.Expires != 0 {
		body.Attributes = attrs
	}

	var bundle wireBundle
	if err := c.do(ctx, http.MethodPut, c.endpoint("secrets", name), body, &bundle, name); err != nil {
		return Secret{}, err
	}
	return bundle.toSecret(), nil
}

// UpdateSecret patches tags and attributes on the current version
// without creating a new one. The expiry attribute is always sent, as
// null when params.Expires is zero, so a cleared expiry clears on the
// backend too instead of surviving the tag update.
func (c *Client) UpdateSecret(ctx context.Context, name string, params UpdateParams) (Secret, error) {
	attrs := &updateAttributes{Enabled: params.Enabled}
	if !params.Expires.IsZero() {
		exp := params.Expires.Unix()
		attrs.Expires = &exp
	}
	body := struct {
		Tags       map[string]string `json:"tags,omitempty"`
		Attributes *updateAttributes `json:"attributes"`
	}{Tags: params.Tags, Attributes: attrs}

	var bundle wireBundle
	if err := c.do(ctx, http.MethodPatch, c.endpoint("secrets", name), body, &bundle, name); err != nil {
		return Secret{}, err
	}
	return bundle.toSecret(), nil
}

// GetSecret fetches a secret's current value, or a specific version
// when version is non-empty.
func (c *Client) GetSecret(ctx context.Context, name, version string) (Secret, error) {
	segments := []string{"secrets", name}
	if version != "" {
		segments = append(segments, version)
	}
	var bundle wireBundle
	if err := c.do(ctx, http.MethodGet, c.endpoint(segments...), nil, &bundle, name); err != nil {
		return Secret{}, err
	}
	return bundle.toSecret(), nil
}

// ListSecrets walks every page of the vault's secret listing. A failed
// page aborts the whole listing; partial results are never returned.
func (c *Client) ListSecrets(ctx context.Context) ([]SecretItem, error) {
	return c.listPages(ctx, c.endpoint("secrets"), "secrets", false)
}

// ListVersions walks every page of the named secret's version listing.
// Order is backend-defined; callers sort by creation time.
func (c *Client) ListVersions(ctx context.Context, name string) ([]SecretItem, error) {
	return c.listPages(ctx, c.endpoint("secrets", name, "versions"), name, false)
}

// ListDeletedSecrets walks the soft-deleted listing.
func (c *Client) ListDeletedSecrets(ctx context.Context) ([]SecretItem, error) {
	return c.listPages(ctx, c.endpoint("deletedsecrets"), "deleted secrets", true)
}

// DeleteSecret soft-deletes the named secret. The secret stays
// recoverable for the vault's retention period.
func (c *Client) DeleteSecret(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, c.endpoint("secrets", name), nil, nil, name)
}

// GetDeletedSecret fetches one soft-deleted secret's listing entry,
// without the value.
func (c *Client) GetDeletedSecret(ctx context.Context, name string) (SecretItem, error) {
	var item wireItem
	if err := c.do(ctx, http.MethodGet, c.endpoint("deletedsecrets", name), nil, &item, name); err != nil {
		return SecretItem{}, err
	}
	return item.toItem(true), nil
}

// RecoverSecret moves a soft-deleted secret back to the active state.
func (c *Client) RecoverSecret(ctx context.Context, name string) (Secret, error) {
	var bundle wireBundle
	url := c.endpoint("deletedsecrets", name, "recover")
	// Empty JSON body: the endpoint requires a Content-Length.
	if err := c.do(ctx, http.MethodPost, url, struct{}{}, &bundle, name); err != nil {
		return Secret{}, err
	}
	return bundle.toSecret(), nil
}

// PurgeSecret permanently removes a soft-deleted secret. Terminal.
func (c *Client) PurgeSecret(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, c.endpoint("deletedsecrets", name), nil, nil, name)
}

func (c *Client) listPages(ctx context.Context, first, resource string, deleted bool) ([]SecretItem, error) {
	var items []SecretItem
	next := first
	for next != "" {
		var page wirePage
		if err := c.do(ctx, http.MethodGet, next, nil, &page, resource); err != nil {
			return nil, err
		}
		for _, it := range page.Value {
			items = append(items, it.toItem(deleted))
		}
		next = page.NextLink
	}
	return items, nil
}

func (a *wireAttributes) toAttributes() Attributes {
	out := Attributes{Enabled: true}
	if a == nil {
		return out
	}
	if a.Enabled != nil {
		out.Enabled = *a.Enabled
	}
	if a.Created != 0 {
		out.Created = time.Unix(a.Created, 0).UTC()
	}
	if a.Updated != 0 {
		out.Updated = time.Unix(a.Updated, 0).UTC()
	}
	if a.Expires != 0 {
		out.Expires = time.Unix(a.Expires, 0).UTC()
	}
	return out
}

func (b wireBundle) toSecret() Secret {
	name, version := splitID(b.ID)
	return Secret{
		Name:        name,
		Version:     version,
		Value:       b.Value,
		ContentType: b.ContentType,
		Tags:        b.Tags,
		Attributes:  b.Attributes.toAttributes(),
	}
}

func (i wireItem) toItem(deleted bool) SecretItem {
	id := i.ID
	if deleted && i.RecoveryID != "" {
		id = i.RecoveryID
	}
	name, version := splitID(id)
	item := SecretItem{
		Name:       name,
		Version:    version,
		Tags:       i.Tags,
		Attributes: i.Attributes.toAttributes(),
		Deleted:    deleted,
	}
	if i.DeletedDate != 0 {
		item.DeletedDate = time.Unix(i.DeletedDate, 0).UTC()
	}
	return item
}

// splitID extracts name and version from an id URL of the form
// https://vault/secrets/{name}[/{version}].
func splitID(id string) (name, version string) {
	u, err := url.Parse(id)
	if err != nil {
		return id, ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	// secrets/{name} or secrets/{name}/{version}
	switch {
	case len(segments) >= 3:
		return segments[1], segments[2]
	case len(segments) == 2:
		return segments[1], ""
	case len(segments) == 1 && segments[0] != "":
		return segments[0], ""
	}
	return id, ""
}
