package auth

import (
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/zalando/go-keyring"

	kverrors "github.com/kvstash/kvstash/internal/errors"
)

// keyringService is the OS keyring service name under which client
// secrets are stored, keyed by client ID.
const keyringService = "kvstash"

// CredentialConfig selects the authentication method used to obtain
// tokens. It is supplied by the config layer at construction; the core
// never reads configuration files itself.
type CredentialConfig struct {
	// Method is one of "default", "client-secret", "managed-identity".
	// Empty means "default" (CLI login, environment, managed identity
	// probing in the SDK's standard order).
	Method string

	TenantID     string
	ClientID     string
	ClientSecret string

	// UseKeyring looks up the client secret in the OS keyring under
	// service "kvstash" and the client ID when ClientSecret is empty.
	UseKeyring bool

	// UserAssignedID selects a user-assigned managed identity.
	UserAssignedID string
}

// NewCredential builds a token credential for the configured method.
func NewCredential(cfg CredentialConfig) (azcore.TokenCredential, error) {
	switch cfg.Method {
	case "", "default":
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, kverrors.AuthError{Message: "creating default credential", Err: err}
		}
		return cred, nil

	case "client-secret":
		if cfg.TenantID == "" || cfg.ClientID == "" {
			return nil, kverrors.ValidationError{
				Field:   "auth",
				Message: "tenant_id and client_id are required for client-secret authentication",
			}
		}
		secret := cfg.ClientSecret
		if secret == "" && cfg.UseKeyring {
			stored, err := keyring.Get(keyringService, cfg.ClientID)
			if err != nil {
				return nil, kverrors.AuthError{
					Message: fmt.Sprintf("reading client secret for %s from OS keyring", cfg.ClientID),
					Err:     err,
				}
			}
			secret = stored
		}
		if secret == "" {
			return nil, kverrors.ValidationError{
				Field:   "auth",
				Message: "no client secret available: store one with 'kvstash login' and set use_keyring in the profile",
			}
		}
		cred, err := azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, secret, nil)
		if err != nil {
			return nil, kverrors.AuthError{Message: "creating client-secret credential", Err: err}
		}
		return cred, nil

	case "managed-identity":
		var opts *azidentity.ManagedIdentityCredentialOptions
		if cfg.UserAssignedID != "" {
			opts = &azidentity.ManagedIdentityCredentialOptions{
				ID: azidentity.ClientID(cfg.UserAssignedID),
			}
		}
		cred, err := azidentity.NewManagedIdentityCredential(opts)
		if err != nil {
			return nil, kverrors.AuthError{Message: "creating managed-identity credential", Err: err}
		}
		return cred, nil
	}

	return nil, kverrors.ValidationError{
		Field:   "auth",
		Message: fmt.Sprintf("unknown authentication method %q", cfg.Method),
	}
}

// StoreClientSecret saves a client secret in the OS keyring so profiles
// can omit it from config files.
func StoreClientSecret(clientID, secret string) error {
	if err := keyring.Set(keyringService, clientID, secret); err != nil {
		return kverrors.AuthError{Message: "storing client secret in OS keyring", Err: err}
	}
	return nil
}
