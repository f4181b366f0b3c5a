// Package tags packs auxiliary secret attributes into the vault's
// bounded tag map.
//
// Key Vault allows at most 15 tags per secret. Three slots are reserved
// for the engine's own bookkeeping: the verbatim original name, the
// comma-joined group list, and the optional expiry. Groups share a
// single slot rather than one slot each; the comma delimiter is a
// versioned wire format, so group names containing a comma are rejected
// at encode time instead of being escaped.
//
// Decoding is total: tag maps written by older tools, or by no tool at
// all, degrade to an empty group set and an absent original name. A
// read never fails because of malformed tags.
package tags

import (
	"fmt"
	"strings"
	"time"

	kverrors "github.com/kvstash/kvstash/internal/errors"
)

// Reserved tag names, visible on the vault item.
const (
	TagOriginalName = "original_name"
	TagGroups       = "groups"
	TagExpires      = "expires"
)

const (
	// SlotBudget is the vault-enforced maximum number of tags.
	SlotBudget = 15

	// reservedSlots are deducted from the budget before any custom
	// attributes are admitted, whether or not they are populated.
	reservedSlots = 3

	groupDelimiter = ","
)

// Metadata is the decoded attribute set of a stored secret.
type Metadata struct {
	// OriginalName is the exact name the caller supplied, or empty if
	// the stored tags predate this scheme. Callers fall back to the
	// vault identifier when empty.
	OriginalName string

	// Groups is the decoded group membership, order preserved from the
	// wire, duplicates removed.
	Groups []string

	// ExpiresAt is zero when the secret carries no expiry.
	ExpiresAt time.Time

	// Custom holds the remaining caller-supplied tags.
	Custom map[string]string
}

// Encode builds the tag map for a write. It fails with
// TagBudgetExceededError when reserved plus custom attributes overflow
// the slot budget, and with ValidationError when a group name cannot be
// represented in the wire format or a custom tag shadows a reserved one.
func Encode(m Metadata) (map[string]string, error) {
	if m.OriginalName == "" {
		return nil, kverrors.ValidationError{Field: "original_name", Message: "must not be empty"}
	}

	groups, err := normalizeGroups(m.Groups)
	if err != nil {
		return nil, err
	}

	for key := range m.Custom {
		switch key {
		case TagOriginalName, TagGroups, TagExpires:
			return nil, kverrors.ValidationError{
				Field:   "tags",
				Message: fmt.Sprintf("%q is reserved", key),
			}
		}
		if key == "" {
			return nil, kverrors.ValidationError{Field: "tags", Message: "tag name must not be empty"}
		}
	}

	if slots := reservedSlots + len(m.Custom); slots > SlotBudget {
		return nil, kverrors.TagBudgetExceededError{Slots: slots, Limit: SlotBudget}
	}

	out := make(map[string]string, reservedSlots+len(m.Custom))
	out[TagOriginalName] = m.OriginalName
	if len(groups) > 0 {
		out[TagGroups] = strings.Join(groups, groupDelimiter)
	}
	if !m.ExpiresAt.IsZero() {
		out[TagExpires] = m.ExpiresAt.UTC().Format(time.RFC3339)
	}
	for key, value := range m.Custom {
		out[key] = value
	}
	return out, nil
}

// Decode recovers metadata from a stored tag map. It never fails:
// unknown shapes degrade to zero values so secrets created by other
// tools still list and read.
func Decode(t map[string]string) Metadata {
	m := Metadata{}
	if len(t) == 0 {
		return m
	}

	m.OriginalName = t[TagOriginalName]
	if m.OriginalName == "" {
		// Legacy tag name used by early versions.
		m.OriginalName = t["name"]
	}

	if raw := t[TagGroups]; raw != "" {
		seen := make(map[string]struct{})
		for _, g := range strings.Split(raw, groupDelimiter) {
			g = strings.TrimSpace(g)
			if g == "" {
				continue
			}
			if _, dup := seen[g]; dup {
				continue
			}
			seen[g] = struct{}{}
			m.Groups = append(m.Groups, g)
		}
	}

	if raw := t[TagExpires]; raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			m.ExpiresAt = ts
		}
	}

	for key, value := range t {
		switch key {
		case TagOriginalName, TagGroups, TagExpires, "name":
			continue
		}
		if m.Custom == nil {
			m.Custom = make(map[string]string)
		}
		m.Custom[key] = value
	}
	return m
}

// HasGroup reports whether the decoded membership contains group.
func (m Metadata) HasGroup(group string) bool {
	for _, g := range m.Groups {
		if g == group {
			return true
		}
	}
	return false
}

func normalizeGroups(groups []string) ([]string, error) {
	if len(groups) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(groups))
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		g = strings.TrimSpace(g)
		if g == "" {
			return nil, kverrors.ValidationError{Field: "groups", Message: "group name must not be empty"}
		}
		if strings.Contains(g, groupDelimiter) {
			return nil, kverrors.ValidationError{
				Field:   "groups",
				Message: fmt.Sprintf("group name %q must not contain %q", g, groupDelimiter),
			}
		}
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out, nil
}
