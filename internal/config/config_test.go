package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeRoster(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func TestLoadRoster_ValidSinglePrimary(t *testing.T) {
	path := writeRoster(t, `
accounts:
  - handle: alice.bsky.social
    password: secret1
    primary: true
  - handle: bob.bsky.social
    password: secret2
`)

	r, err := LoadRoster(path)

	require.NoError(t, err)
	require.Len(t, r.Accounts, 2)
	require.True(t, r.Accounts[0].Primary)
}

func TestLoadRoster_MissingFileErrors(t *testing.T) {
	_, err := LoadRoster(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate_RejectsEmptyRoster(t *testing.T) {
	r := &Roster{}
	require.Error(t, r.Validate())
}

func TestValidate_RejectsMissingHandle(t *testing.T) {
	r := &Roster{Accounts: []AccountEntry{{Password: "x", Primary: true}}}
	require.Error(t, r.Validate())
}

func TestValidate_RejectsDuplicateHandles(t *testing.T) {
	r := &Roster{Accounts: []AccountEntry{
		{Handle: "alice.bsky.social", Primary: true},
		{Handle: "alice.bsky.social"},
	}}
	require.Error(t, r.Validate())
}

func TestValidate_RejectsZeroPrimaries(t *testing.T) {
	r := &Roster{Accounts: []AccountEntry{
		{Handle: "alice.bsky.social"},
		{Handle: "bob.bsky.social"},
	}}
	require.Error(t, r.Validate())
}

func TestValidate_RejectsMultiplePrimaries(t *testing.T) {
	r := &Roster{Accounts: []AccountEntry{
		{Handle: "alice.bsky.social", Primary: true},
		{Handle: "bob.bsky.social", Primary: true},
	}}
	require.Error(t, r.Validate())
}

func TestValidate_AcceptsExactlyOnePrimary(t *testing.T) {
	r := &Roster{Accounts: []AccountEntry{
		{Handle: "alice.bsky.social", Primary: true},
		{Handle: "bob.bsky.social"},
	}}
	require.NoError(t, r.Validate())
}
