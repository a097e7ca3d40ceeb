// Package auth holds the service credentials of applications calling the
// HTTP API. Keys identify a calling client and the scopes it was granted;
// they say nothing about the end user behind that client.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

const (
	// ScopeQuery may open sessions and ask questions.
	ScopeQuery = "query"
	// ScopeAnalysis may additionally run generated analysis code.
	ScopeAnalysis = "analysis"
	// ScopeAudit may read the turn audit log.
	ScopeAudit = "audit"
)

var knownScopes = map[string]bool{ScopeQuery: true, ScopeAnalysis: true, ScopeAudit: true}

type Client struct {
	Name   string
	Scopes []string
}

func (c Client) Allows(scope string) bool {
	for _, candidate := range c.Scopes {
		if candidate == scope {
			return true
		}
	}
	return false
}

type KeyStore interface {
	Lookup(ctx context.Context, apiKey string) (Client, bool)
}

type staticKey struct {
	digest [sha256.Size]byte
	client Client
}

// StaticKeys is a KeyStore loaded once from configuration. Only key digests
// are held in memory.
type StaticKeys struct {
	keys []staticKey
}

// ParseStaticKeys parses comma separated key:client:scope|scope entries.
func ParseStaticKeys(raw string) (*StaticKeys, error) {
	store := &StaticKeys{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return store, nil
	}

	seen := map[[sha256.Size]byte]string{}
	for index, entry := range strings.Split(raw, ",") {
		fields := strings.Split(strings.TrimSpace(entry), ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("static key entry %d: expected key:client:scope|scope", index+1)
		}
		key, name := strings.TrimSpace(fields[0]), strings.TrimSpace(fields[1])
		if key == "" || name == "" {
			return nil, fmt.Errorf("static key entry %d: empty key or client", index+1)
		}
		scopes, err := parseScopes(fields[2])
		if err != nil {
			return nil, fmt.Errorf("static key for client %q: %w", name, err)
		}
		digest := sha256.Sum256([]byte(key))
		if other, dup := seen[digest]; dup {
			return nil, fmt.Errorf("static key for client %q duplicates the key of client %q", name, other)
		}
		seen[digest] = name
		store.keys = append(store.keys, staticKey{digest: digest, client: Client{Name: name, Scopes: scopes}})
	}
	return store, nil
}

func parseScopes(raw string) ([]string, error) {
	scopes := make([]string, 0, len(knownScopes))
	for _, scope := range strings.Split(strings.TrimSpace(raw), "|") {
		scope = strings.TrimSpace(scope)
		if scope == "" {
			continue
		}
		if !knownScopes[scope] {
			return nil, fmt.Errorf("unknown scope %q", scope)
		}
		scopes = append(scopes, scope)
	}
	if len(scopes) == 0 {
		return nil, fmt.Errorf("at least one scope is required")
	}
	sort.Strings(scopes)
	return scopes, nil
}

// Lookup compares the key digest against every entry so the time taken does
// not depend on which entry matched.
func (s *StaticKeys) Lookup(_ context.Context, apiKey string) (Client, bool) {
	digest := sha256.Sum256([]byte(apiKey))
	var (
		match Client
		found bool
	)
	for _, key := range s.keys {
		if subtle.ConstantTimeCompare(digest[:], key.digest[:]) == 1 {
			match, found = key.client, true
		}
	}
	return match, found
}

func (s *StaticKeys) Len() int {
	return len(s.keys)
}

// Fingerprint names a presented key in logs without revealing it.
func Fingerprint(apiKey string) string {
	digest := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(digest[:4])
}
