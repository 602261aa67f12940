// Package auth resolves presented API secrets to capability scope sets.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/resflow/toolplane/internal/config"
	"github.com/resflow/toolplane/internal/domain"
)

// Identity classes drive per-class rate limits.
const (
	ClassDefault  = "default"
	ClassElevated = "elevated"
)

// Identity is the resolved view of a credential: a non-reversible key
// fingerprint plus its granted scopes. The raw secret is dropped at
// resolution time and never travels further.
type Identity struct {
	KeyID  string
	Scopes []string
	Class  string
}

type key struct {
	digest   [sha256.Size]byte
	identity Identity
}

// Resolver verifies presented secrets against the configured key set.
type Resolver struct {
	keys  []key
	dummy [sha256.Size]byte
}

// NewResolver builds a resolver from configured API keys.
func NewResolver(keys []config.APIKey) *Resolver {
	r := &Resolver{
		dummy: sha256.Sum256([]byte("toolplane-dummy-compare")),
	}
	for _, k := range keys {
		class := k.Class
		if class == "" {
			class = ClassDefault
		}
		r.keys = append(r.keys, key{
			digest: sha256.Sum256([]byte(k.Secret)),
			identity: Identity{
				KeyID:  Fingerprint(k.Secret),
				Scopes: append([]string(nil), k.Scopes...),
				Class:  class,
			},
		})
	}
	return r
}

// Verify resolves a presented secret to its identity. Comparison runs in
// constant time over fixed-size digests, and every call walks the full key
// set so a miss costs the same as a hit. An empty key set still burns one
// dummy compare.
func (r *Resolver) Verify(secret string) (*Identity, error) {
	if secret == "" {
		return nil, domain.E(domain.CodeAuthFailed, "no credential presented").
			WithHelp("pass the secret in the X-API-Key header or as a bearer token")
	}

	presented := sha256.Sum256([]byte(secret))

	var matched *Identity
	for i := range r.keys {
		if subtle.ConstantTimeCompare(presented[:], r.keys[i].digest[:]) == 1 {
			matched = &r.keys[i].identity
		}
	}
	if len(r.keys) == 0 {
		subtle.ConstantTimeCompare(presented[:], r.dummy[:])
	}

	if matched == nil {
		return nil, domain.E(domain.CodeAuthFailed, "unknown credential")
	}

	// Copy so callers cannot mutate the configured scope set.
	id := *matched
	id.Scopes = append([]string(nil), matched.Scopes...)
	return &id, nil
}

// Fingerprint returns the one-way key identifier logged and audited in
// place of the secret.
func Fingerprint(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return "key_" + hex.EncodeToString(sum[:])[:12]
}

// HasScope reports whether any held scope satisfies the required one.
// Matching: literal equality, global wildcard "*", or namespace wildcard
// "ns.*" covering every scope starting with "ns.".
func HasScope(held []string, required string) bool {
	for _, s := range held {
		if s == required || s == "*" {
			return true
		}
		if ns, ok := strings.CutSuffix(s, ".*"); ok && strings.HasPrefix(required, ns+".") {
			return true
		}
	}
	return false
}
