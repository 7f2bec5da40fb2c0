package repository

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetEnvDefault_UsesEnvWhenSet(t *testing.T) {
	t.Setenv("REPO_CORE_TEST_VAR", "custom")
	require.Equal(t, "custom", getEnvDefault("REPO_CORE_TEST_VAR", "fallback"))
}

func TestGetEnvDefault_UsesFallbackWhenUnset(t *testing.T) {
	require.NoError(t, os.Unsetenv("REPO_CORE_TEST_VAR_UNSET"))
	require.Equal(t, "fallback", getEnvDefault("REPO_CORE_TEST_VAR_UNSET", "fallback"))
}

func TestNullableDID_EmptyStringBecomesNil(t *testing.T) {
	require.Nil(t, nullableDID(""))
}

func TestNullableDID_NonEmptyStringPointsToValue(t *testing.T) {
	got := nullableDID("did:plc:alice")
	require.NotNil(t, got)
	require.Equal(t, "did:plc:alice", *got)
}
