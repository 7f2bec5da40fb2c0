// Package config loads the optional YAML account roster. Without a
// roster, root main.go configures a single primary account from the
// ACCOUNT_HANDLE/ACCOUNT_PASSWORD environment variables; the roster file
// is how more than one account is configured.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AccountEntry is one roster row.
type AccountEntry struct {
	Handle   string `yaml:"handle"`
	Password string `yaml:"password"`
	Primary  bool   `yaml:"primary"`
}

// Roster is the full set of managed accounts.
type Roster struct {
	Accounts []AccountEntry `yaml:"accounts"`
}

// LoadRoster reads and parses the YAML roster at path.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster file: %w", err)
	}

	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse roster file: %w", err)
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate enforces the single-primary invariant before the roster ever
// reaches the orchestrator.
func (r *Roster) Validate() error {
	if len(r.Accounts) == 0 {
		return fmt.Errorf("roster has no accounts")
	}
	primaries := 0
	seen := map[string]bool{}
	for _, a := range r.Accounts {
		if a.Handle == "" {
			return fmt.Errorf("roster entry missing handle")
		}
		if seen[a.Handle] {
			return fmt.Errorf("roster entry %s listed twice", a.Handle)
		}
		seen[a.Handle] = true
		if a.Primary {
			primaries++
		}
	}
	if primaries != 1 {
		return fmt.Errorf("roster must have exactly one primary account, found %d", primaries)
	}
	return nil
}
