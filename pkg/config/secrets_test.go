package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := map[string]string{EnvAnthropicAPIKey: "sk-ant-test", EnvOpenAIAPIKey: "sk-test"}

	require.NoError(t, EncryptSecretsFile(dir, "hunter22", want))
	assert.True(t, SecretsFileExists(dir))

	info, err := os.Stat(SecretsPath(dir))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := DecryptSecretsFile(dir, "hunter22")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSecretsWrongPassword(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EncryptSecretsFile(dir, "right", map[string]string{"A": "1"}))
	_, err := DecryptSecretsFile(dir, "wrong")
	assert.ErrorIs(t, err, ErrWrongPassword)
}

func TestSecretsFixesPermissions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EncryptSecretsFile(dir, "pw", map[string]string{"A": "1"}))
	require.NoError(t, os.Chmod(SecretsPath(dir), 0o644))

	_, err := DecryptSecretsFile(dir, "pw")
	require.NoError(t, err)
	info, err := os.Stat(SecretsPath(dir))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSecretsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EncryptSecretsFile(dir, "pw", nil))
	require.NoError(t, os.WriteFile(SecretsPath(dir), []byte("short"), 0o600))
	_, err := DecryptSecretsFile(dir, "pw")
	assert.ErrorContains(t, err, "corrupted")
}

func TestGetSecretPrecedence(t *testing.T) {
	t.Cleanup(func() { SetDecryptedSecrets(nil) })
	t.Setenv("SPECFORGE_TEST_SECRET", "from-env")

	v, err := GetSecret("SPECFORGE_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "from-env", v)

	SetSecret("SPECFORGE_TEST_SECRET", "from-file")
	v, err = GetSecret("SPECFORGE_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "from-file", v)
	assert.Equal(t, []string{"SPECFORGE_TEST_SECRET"}, SecretNames())

	DeleteSecret("SPECFORGE_TEST_SECRET")
	v, _ = GetSecret("SPECFORGE_TEST_SECRET")
	assert.Equal(t, "from-env", v)

	_, err = GetSecret("SPECFORGE_MISSING_SECRET")
	assert.Error(t, err)
}

func TestGetAPIKey(t *testing.T) {
	t.Cleanup(func() { SetDecryptedSecrets(nil) })
	t.Setenv(EnvGoogleAPIKey, "g-key")
	t.Setenv(EnvOllamaHost, "")

	key, err := GetAPIKey(ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "g-key", key)

	host, err := GetAPIKey(ProviderOllama)
	require.NoError(t, err)
	assert.Equal(t, DefaultOllamaHost, host)

	_, err = GetAPIKey("acme")
	assert.Error(t, err)
}
