// Package commands wires the CLI onto the secret lifecycle manager.
// Everything here is glue: flags in, manager calls out, formatting.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kvstash/kvstash/internal/auth"
	"github.com/kvstash/kvstash/internal/backend"
	"github.com/kvstash/kvstash/internal/config"
	kverrors "github.com/kvstash/kvstash/internal/errors"
	"github.com/kvstash/kvstash/internal/logging"
	"github.com/kvstash/kvstash/internal/secret"
)

// App carries the global flags and logger shared by every command.
type App struct {
	ConfigPath  string
	ProfileName string
	Vault       string
	Debug       bool
	NoColor     bool
	Logger      *logging.Logger
}

// profile resolves the effective profile from flags and config. The
// --vault flag wins and works without any config file.
func (a *App) profile() (config.Profile, error) {
	if a.Vault != "" {
		return config.Profile{Vault: a.Vault}, nil
	}

	path := a.ConfigPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return config.Profile{}, err
		}
	}

	f, err := config.Load(path)
	if err != nil {
		var nf kverrors.NotFoundError
		if errors.As(err, &nf) && a.ConfigPath == "" {
			return config.Profile{}, kverrors.ValidationError{
				Field:   "vault",
				Message: "no config file found; pass --vault or create " + path,
			}
		}
		return config.Profile{}, err
	}
	return f.Profile(a.ProfileName)
}

// manager builds the lifecycle manager for the selected vault. The
// returned closer releases the token cache.
func (a *App) manager(opts ...secret.Option) (*secret.Manager, func(), error) {
	p, err := a.profile()
	if err != nil {
		return nil, nil, err
	}

	cred, err := auth.NewCredential(p.Credential())
	if err != nil {
		return nil, nil, err
	}
	tokens := auth.NewTokenSource(cred, auth.WithLogger(a.Logger))

	client, err := backend.NewClient(p.ResolveVaultURL(), tokens, backend.WithLogger(a.Logger))
	if err != nil {
		tokens.Close()
		return nil, nil, err
	}

	opts = append(opts, secret.WithLogger(a.Logger))
	return secret.NewManager(client, opts...), tokens.Close, nil
}

// parseTags splits repeated key=value flags into a map.
func parseTags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, kverrors.ValidationError{
				Field:   "tag",
				Message: fmt.Sprintf("expected key=value, got %q", pair),
			}
		}
		out[key] = value
	}
	return out, nil
}

// parseExpiry accepts an absolute RFC 3339 timestamp or a duration
// relative to now (for example 720h).
func parseExpiry(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return time.Now().Add(d).UTC(), nil
	}
	return time.Time{}, kverrors.ValidationError{
		Field:   "expires",
		Message: fmt.Sprintf("%q is neither an RFC 3339 timestamp nor a duration", raw),
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printProperties renders one secret's properties for humans.
func printProperties(w io.Writer, p secret.Properties) {
	fmt.Fprintf(w, "Name:     %s\n", p.Name)
	if p.BackendName != p.Name {
		fmt.Fprintf(w, "Vault ID: %s\n", p.BackendName)
	}
	if p.Version != "" {
		fmt.Fprintf(w, "Version:  %s\n", p.Version)
	}
	if len(p.Metadata.Groups) > 0 {
		fmt.Fprintf(w, "Groups:   %s\n", strings.Join(p.Metadata.Groups, ", "))
	}
	for key, value := range p.Metadata.Custom {
		fmt.Fprintf(w, "Tag:      %s=%s\n", key, value)
	}
	if !p.Created.IsZero() {
		fmt.Fprintf(w, "Created:  %s\n", p.Created.Format(time.RFC3339))
	}
	if !p.Expires.IsZero() {
		fmt.Fprintf(w, "Expires:  %s\n", p.Expires.Format(time.RFC3339))
	}
	if p.Deleted {
		fmt.Fprintf(w, "State:    soft-deleted (%s)\n", p.DeletedDate.Format(time.RFC3339))
	}
}
