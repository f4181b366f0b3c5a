// Package config loads the kvstash configuration file.
//
// The file holds named profiles so one machine can talk to several
// vaults. Nothing in the core reads configuration; the CLI resolves a
// profile here and injects the result at construction time.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kvstash/kvstash/internal/auth"
	"github.com/kvstash/kvstash/internal/backend"
	kverrors "github.com/kvstash/kvstash/internal/errors"
)

// File is the on-disk configuration shape.
type File struct {
	DefaultProfile string             `yaml:"default_profile,omitempty"`
	Profiles       map[string]Profile `yaml:"profiles"`
}

// Profile names one vault and how to authenticate against it.
type Profile struct {
	// Vault is the short vault name; VaultURL wins when both are set.
	Vault    string `yaml:"vault,omitempty"`
	VaultURL string `yaml:"vault_url,omitempty"`

	TenantID string `yaml:"tenant_id,omitempty"`
	ClientID string `yaml:"client_id,omitempty"`

	// AuthMethod is one of "default", "client-secret", or
	// "managed-identity". Empty means "default".
	AuthMethod string `yaml:"auth_method,omitempty"`

	// UseKeyring fetches the client secret from the OS keyring
	// instead of the environment.
	UseKeyring bool `yaml:"use_keyring,omitempty"`

	Debug bool `yaml:"debug,omitempty"`
}

// DefaultPath returns the per-user config location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving config directory: %w", err)
	}
	return filepath.Join(dir, "kvstash", "config.yaml"), nil
}

// Load reads and parses the configuration at path. A missing file is
// reported distinctly so callers can fall back to flags.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, kverrors.NotFoundError{Kind: "config file", Name: path}
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, kverrors.ValidationError{
			Field:   "config",
			Message: fmt.Sprintf("%s is not valid YAML: %v", path, err),
		}
	}
	return &f, nil
}

// Save writes the configuration to path, creating parent directories.
func (f *File) Save(path string) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}

// Profile resolves a named profile, or the default when name is empty.
func (f *File) Profile(name string) (Profile, error) {
	if name == "" {
		name = f.DefaultProfile
	}
	if name == "" {
		if len(f.Profiles) == 1 {
			for _, p := range f.Profiles {
				return p, p.Validate()
			}
		}
		return Profile{}, kverrors.ValidationError{
			Field:   "profile",
			Message: "no profile selected and no default_profile configured",
		}
	}
	p, ok := f.Profiles[name]
	if !ok {
		return Profile{}, kverrors.NotFoundError{Kind: "profile", Name: name}
	}
	return p, p.Validate()
}

// Validate checks that the profile can produce a usable client.
func (p Profile) Validate() error {
	if p.Vault == "" && p.VaultURL == "" {
		return kverrors.ValidationError{Field: "vault", Message: "profile must set vault or vault_url"}
	}
	switch p.AuthMethod {
	case "", "default", "client-secret", "managed-identity":
	default:
		return kverrors.ValidationError{
			Field:   "auth_method",
			Message: fmt.Sprintf("unknown auth method %q, expected default, client-secret, or managed-identity", p.AuthMethod),
		}
	}
	if p.AuthMethod == "client-secret" && (p.TenantID == "" || p.ClientID == "") {
		return kverrors.ValidationError{
			Field:   "auth_method",
			Message: "client-secret authentication requires tenant_id and client_id",
		}
	}
	return nil
}

// ResolveVaultURL returns the data-plane endpoint for the profile.
func (p Profile) ResolveVaultURL() string {
	if p.VaultURL != "" {
		return strings.TrimSuffix(p.VaultURL, "/")
	}
	return backend.VaultURL(p.Vault)
}

// Credential maps the profile onto a credential configuration.
func (p Profile) Credential() auth.CredentialConfig {
	method := p.AuthMethod
	if method == "" {
		method = "default"
	}
	return auth.CredentialConfig{
		Method:     method,
		TenantID:   p.TenantID,
		ClientID:   p.ClientID,
		UseKeyring: p.UseKeyring,
	}
}
