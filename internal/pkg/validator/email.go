package validator

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

var ErrNoAddresses = errors.New("at least one notification address is required")

// NormalizeAddresses trims, validates and de-duplicates a list of recipient
// addresses, preserving the order of first occurrence.
func NormalizeAddresses(addresses []string) ([]string, error) {
	seen := make(map[string]struct{}, len(addresses))
	out := make([]string, 0, len(addresses))

	for _, raw := range addresses {
		addr := strings.TrimSpace(raw)
		if addr == "" {
			continue
		}
		parsed, err := mail.ParseAddress(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid email address %q", addr)
		}
		// Bare addresses only; display names belong to the mailer.
		if parsed.Name != "" || !strings.Contains(parsed.Address, "@") {
			return nil, fmt.Errorf("invalid email address %q", addr)
		}
		key := strings.ToLower(parsed.Address)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, parsed.Address)
	}
	return out, nil
}

// NotificationSettings enforces that notifications are enabled exactly when
// there is at least one valid address. Disabled settings drop the list.
func NotificationSettings(enabled bool, addresses []string) ([]string, error) {
	if !enabled {
		return []string{}, nil
	}
	normalized, err := NormalizeAddresses(addresses)
	if err != nil {
		return nil, err
	}
	if len(normalized) == 0 {
		return nil, ErrNoAddresses
	}
	return normalized, nil
}
