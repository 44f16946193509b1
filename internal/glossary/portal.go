package glossary

import (
	"fmt"
	"net/url"
	"time"
)

// PlatformKind enumerates the portal platforms with shipped adapters.
// The set is open: the facade registry decides what is actually
// supported, so an unrecognized kind here is not an error until a crawl
// is requested for it.
type PlatformKind string

// Platform kinds with first-party adapters.
const (
	PlatformSocrata     PlatformKind = "socrata"
	PlatformCKAN        PlatformKind = "ckan"
	PlatformArcGIS      PlatformKind = "arcgis"
	PlatformFileListing PlatformKind = "filelisting"
)

// PortalConfig describes one portal to crawl. It is supplied by the
// caller (or the portals section of the config file) and is read-only to
// the core.
type PortalConfig struct {
	ID             string        `json:"id" mapstructure:"id"`
	Platform       PlatformKind  `json:"platform" mapstructure:"platform"`
	Endpoint       string        `json:"endpoint" mapstructure:"endpoint"`
	PageSize       int           `json:"page_size,omitempty" mapstructure:"page_size"`
	RateLimit      float64       `json:"rate_limit,omitempty" mapstructure:"rate_limit"`
	RateBurst      int           `json:"rate_burst,omitempty" mapstructure:"rate_burst"`
	Cooldown       time.Duration `json:"cooldown,omitempty" mapstructure:"cooldown"`
	CredentialsRef string        `json:"credentials_ref,omitempty" mapstructure:"credentials_ref"`

	// Listing is the CSS selector scoping link extraction on file-listing
	// portals; empty means the whole document.
	Listing string `json:"listing,omitempty" mapstructure:"listing"`
	// Filters are substrings that exclude listing links when matched.
	Filters []string `json:"filters,omitempty" mapstructure:"filters"`
	// ResolveLinks enables the headless pager for platforms whose asset
	// pages hide the real download URL behind rendered markup.
	ResolveLinks bool `json:"resolve_links,omitempty" mapstructure:"resolve_links"`
}

// Validate checks the fields every platform needs. Platform membership is
// deliberately not checked here; unknown kinds must travel to the facade
// so they surface as UnsupportedPlatformError.
func (c PortalConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("portal config missing id")
	}
	if c.Platform == "" {
		return fmt.Errorf("portal %s missing platform kind", c.ID)
	}
	if c.Endpoint == "" {
		return fmt.Errorf("portal %s missing endpoint", c.ID)
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("portal %s endpoint: %w", c.ID, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("portal %s endpoint %q must be http or https", c.ID, c.Endpoint)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("portal %s rate limit must be >= 0", c.ID)
	}
	if c.PageSize < 0 {
		return fmt.Errorf("portal %s page size must be >= 0", c.ID)
	}
	return nil
}

// Defaults applied when the caller leaves optional knobs unset.
const (
	DefaultPageSize = 100
	DefaultCooldown = 30 * time.Second
)

// PageSizeOrDefault returns the catalog page size to request.
func (c PortalConfig) PageSizeOrDefault() int {
	if c.PageSize > 0 {
		return c.PageSize
	}
	return DefaultPageSize
}

// CooldownOrDefault returns the pause applied after a rate-limited fetch.
func (c PortalConfig) CooldownOrDefault() time.Duration {
	if c.Cooldown > 0 {
		return c.Cooldown
	}
	return DefaultCooldown
}
