package controller

import (
	"fmt"
	"regexp"
	"strings"
)

// Validation constants.
const (
	maxNameLength = 100
	maxCodeLength = 32
	maxHostLength = 253
	maxLanes      = 64
	maxLaneLength = 16
)

var codeRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var validCharsets = map[string]struct{}{
	"":       {},
	"utf-8":  {},
	"euc-kr": {},
}

// Validate checks a controller before it is written.
// Returns an error describing the first validation failure found.
func Validate(c *Controller) error {
	if c == nil {
		return ErrInvalidController
	}

	name := strings.TrimSpace(c.Name)
	if name == "" || len(name) > maxNameLength {
		return fmt.Errorf("%w: must be 1-%d characters", ErrInvalidName, maxNameLength)
	}

	code := strings.TrimSpace(c.Code)
	if code == "" || len(code) > maxCodeLength || !codeRegex.MatchString(code) {
		return fmt.Errorf("%w: %q", ErrInvalidCode, c.Code)
	}

	host := strings.TrimSpace(c.Host)
	if host == "" || len(host) > maxHostLength {
		return fmt.Errorf("%w: %q", ErrInvalidHost, c.Host)
	}

	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}

	if c.Status != "" && !c.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, c.Status)
	}

	if c.SiteID != nil && strings.TrimSpace(*c.SiteID) == "" {
		return fmt.Errorf("%w: site_id must not be blank", ErrInvalidController)
	}

	return validateConfig(c.Config)
}

func validateConfig(cfg Config) error {
	if len(cfg.Lanes) > maxLanes {
		return fmt.Errorf("%w: at most %d lanes", ErrInvalidConfig, maxLanes)
	}
	seen := make(map[string]struct{}, len(cfg.Lanes))
	for _, lane := range cfg.Lanes {
		if lane == "" || len(lane) > maxLaneLength {
			return fmt.Errorf("%w: lane %q", ErrInvalidConfig, lane)
		}
		if _, dup := seen[lane]; dup {
			return fmt.Errorf("%w: duplicate lane %q", ErrInvalidConfig, lane)
		}
		seen[lane] = struct{}{}
	}

	if _, ok := validCharsets[strings.ToLower(cfg.DisplayCharset)]; !ok {
		return fmt.Errorf("%w: unsupported display charset %q", ErrInvalidConfig, cfg.DisplayCharset)
	}

	if cfg.TimeoutMS < 0 {
		return fmt.Errorf("%w: timeout_ms must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Apply copies the non-nil fields of p onto c.
func (p Patch) Apply(c *Controller) {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Code != nil {
		c.Code = *p.Code
	}
	if p.Host != nil {
		c.Host = *p.Host
	}
	if p.Port != nil {
		c.Port = *p.Port
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.Config != nil {
		c.Config = *p.Config
	}
	if p.ClearSite {
		c.SiteID = nil
	} else if p.SiteID != nil {
		id := *p.SiteID
		c.SiteID = &id
	}
}
