// Package tenant defines the tenant records the provisioning tools manage.
package tenant

import (
	"fmt"
	"regexp"
	"time"
)

// Tenant is one customer account on the booking platform.
type Tenant struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Slug      string            `json:"slug"`
	Plan      string            `json:"plan"`
	Enabled   bool              `json:"enabled"`
	Settings  map[string]string `json:"settings,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

var slugPattern = regexp.MustCompile(`^[a-z][a-z0-9-]{1,62}[a-z0-9]$`)

// ValidateSlug checks the tenant slug format used in subdomains.
func ValidateSlug(slug string) error {
	if !slugPattern.MatchString(slug) {
		return fmt.Errorf("invalid tenant slug %q: must be 3-64 chars, lowercase alphanumeric and hyphens, start with a letter", slug)
	}
	return nil
}
