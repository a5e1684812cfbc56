package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtriage/internal/model"
)

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.yaml"), []byte(`
db:
  host: localhost
  port: 5432
triage:
  hot_thread_min: 4
  company_domains: [example.com]
  auto_actions:
    - category: newsletter
      min_priority: 5
      action: mark_handled
priority:
  vip_ceiling: 1
`), 0o600))
	t.Setenv("TRIAGE_CRON_INTERVAL_MINUTES", "5")

	cfg, err := Load("test", dir)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Env)
	assert.Equal(t, 4, cfg.Triage.HotThreadMin)
	assert.Equal(t, 10, cfg.Triage.MaxBatchItems)
	assert.Equal(t, 24000, cfg.Triage.MaxBatchChars)
	assert.Equal(t, "llm-v1", cfg.Triage.ClassifierVersion)
	assert.Equal(t, 30*time.Minute, cfg.Triage.StaleAfter())
	assert.Equal(t, 5*time.Minute, cfg.Triage.CronInterval())
	assert.Equal(t, []string{"example.com"}, cfg.Triage.CompanyDomains)
	require.Len(t, cfg.Triage.AutoActions, 1)
	assert.Equal(t, model.CategoryNewsletter, cfg.Triage.AutoActions[0].Category)
	assert.Equal(t, model.ActionMarkHandled, cfg.Triage.AutoActions[0].Action)
	assert.Equal(t, 5, cfg.Triage.AutoActions[0].MinPriority)

	// partially configured priority section keeps the other defaults
	assert.Equal(t, 1, cfg.Priority.VIPCeiling)
	assert.Equal(t, 4, cfg.Priority.AutomatedFloor)
	assert.Len(t, cfg.Priority.OverdueBands, 3)

	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
}

func TestLoad_CompanyDomainsFromEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.yaml"), []byte("triage:\n  company_domains: [old.com]\n"), 0o600))
	t.Setenv("TRIAGE_COMPANY_DOMAINS", "Acme.io, corp.acme.io")

	cfg, err := Load("local", dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme.io", "corp.acme.io"}, cfg.Triage.CompanyDomains)
}

func TestLoad_UnresolvedSecretsAreEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.yaml"), []byte(`
jwt:
  secret: ${TRIAGE_TEST_UNSET_JWT}
mail:
  credential_key: ${TRIAGE_TEST_UNSET_KEY}
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secrets.env"), []byte("TRIAGE_TEST_UNSET_JWT=from-secrets\n"), 0o600))

	cfg, err := Load("local", dir)
	require.NoError(t, err)
	assert.Equal(t, "from-secrets", cfg.JWT.Secret)
	assert.Empty(t, cfg.Mail.CredentialKey)
}
