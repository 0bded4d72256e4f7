package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitialize_UsesHomeOverride(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "home")
	t.Setenv(HomeEnv, dir)

	require.NoError(t, Initialize())

	require.Equal(t, dir, ConfigDir)
	require.Equal(t, filepath.Join(dir, "plans"), PlansDir)
	require.Equal(t, filepath.Join(dir, "wssampler.db"), DatabasePath)

	info, err := os.Stat(PlansDir)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	data, err := os.ReadFile(VariablesFile)
	require.NoError(t, err)
	require.JSONEq(t, `{"variables":{}}`, string(data))
}

func TestInitialize_KeepsExistingVariables(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(HomeEnv, dir)

	existing := []byte(`{"variables":{"token":"abc"}}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".variables.json"), existing, FilePermissions))

	require.NoError(t, Initialize())

	data, err := os.ReadFile(VariablesFile)
	require.NoError(t, err)
	require.Equal(t, existing, data)
}

func TestResolvePlanPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(HomeEnv, dir)
	require.NoError(t, Initialize())

	inPlans := filepath.Join(PlansDir, "chat.yaml")
	require.NoError(t, os.WriteFile(inPlans, []byte("name: chat\n"), FilePermissions))

	local := filepath.Join(t.TempDir(), "local.jsonc")
	require.NoError(t, os.WriteFile(local, []byte("{}"), FilePermissions))

	got, err := ResolvePlanPath("chat")
	require.NoError(t, err)
	require.Equal(t, inPlans, got)

	got, err = ResolvePlanPath(local)
	require.NoError(t, err)
	require.Equal(t, local, got)

	got, err = ResolvePlanPath(local[:len(local)-len(".jsonc")])
	require.NoError(t, err)
	require.Equal(t, local, got)

	_, err = ResolvePlanPath("missing")
	require.Error(t, err)
}
