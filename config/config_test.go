package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goliatone/go-authstate/cognito"
	apperrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
user_pool:
  pool_id: us-east-1_AbCdEf
  app_client_id: client-123
identity_pool:
  pool_id: us-east-1:0000-1111
credential_store:
  driver: bolt
  path: /tmp/auth.db
refresh:
  enabled: true
  window: 10m
retry:
  max_retries: 2
  base: 250ms
`

func TestParseYAMLAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Equal(t, string(cognito.AuthFlowUserSRP), cfg.AuthFlow)
	assert.Equal(t, StoreBolt, cfg.CredentialStore.Driver)
	assert.Equal(t, "credentials", cfg.CredentialStore.Bucket)
	assert.Equal(t, "@every 1m", cfg.Refresh.Schedule)
	assert.Equal(t, 10*time.Minute, cfg.Refresh.Window)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.Base)
	assert.Equal(t, 2, cfg.Retry.MaxRetries)
	assert.True(t, cfg.HasIdentityPool())
	assert.Equal(t, "AbCdEf", cfg.PoolName())
	assert.Equal(t, "cognito-idp.us-east-1.amazonaws.com/us-east-1_AbCdEf", cfg.ProviderName())
}

func TestParseJSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"region":"eu-west-1","user_pool":{"pool_id":"eu-west-1_X","app_client_id":"abc"}}`))
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.False(t, cfg.HasIdentityPool())
	assert.Equal(t, StoreMemory, cfg.CredentialStore.Driver)
}

func TestValidateReportsField(t *testing.T) {
	cases := map[string]string{
		"missing client":    `{"user_pool":{"pool_id":"us-east-1_X"}}`,
		"bad pool":          `{"region":"us-east-1","user_pool":{"pool_id":"nope","app_client_id":"a"}}`,
		"bolt without path": `{"user_pool":{"pool_id":"us-east-1_X","app_client_id":"a"},"credential_store":{"driver":"bolt"}}`,
		"unknown flow":      `{"user_pool":{"pool_id":"us-east-1_X","app_client_id":"a"},"auth_flow":"MAGIC"}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)

			var ge *apperrors.Error
			require.ErrorAs(t, err, &ge)
			assert.Equal(t, ErrCodeInvalidConfig, ge.TextCode)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "client-123", cfg.UserPool.AppClientID)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
