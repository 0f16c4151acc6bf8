package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/rtmsync/internal/config"
	"github.com/randalmurphal/rtmsync/internal/db"
)

func TestResolveStringPriority(t *testing.T) {
	t.Setenv("RTMSYNC_TEST_VALUE", "from-env")

	assert.Equal(t, "from-flag", resolveString("from-flag", "RTMSYNC_TEST_VALUE", "from-config"))
	assert.Equal(t, "from-env", resolveString("", "RTMSYNC_TEST_VALUE", "from-config"))
	assert.Equal(t, "from-config", resolveString("", "RTMSYNC_UNSET_VALUE", "from-config"))
	assert.Equal(t, "", resolveString("", "", ""))
}

func TestTypeLabelRoundTrip(t *testing.T) {
	t.Parallel()
	for label, issueType := range cliTypes {
		assert.Equal(t, label, typeLabel(issueType))
	}
	assert.Equal(t, "EPIC", typeLabel("EPIC"))
}

func TestEnsureProjectCreatesAndUpdates(t *testing.T) {
	t.Parallel()
	store := db.NewTestStore(t)

	cfg := config.DefaultConfig()
	cfg.Remote.BaseURL = "https://jira.example.com"
	cfg.Project.Key = "PROJ"
	cfg.Project.ID = 41500

	p, err := ensureProject(store, cfg)
	require.NoError(t, err)
	require.NotZero(t, p.ID)
	assert.Equal(t, int64(41500), p.ProjectID)

	cfg.Project.ID = 41501
	p2, err := ensureProject(store, cfg)
	require.NoError(t, err)
	assert.Equal(t, p.ID, p2.ID)
	assert.Equal(t, int64(41501), p2.ProjectID)
}

func TestNewClientRequiresToken(t *testing.T) {
	t.Setenv(config.EnvTokenVar, "")
	cfg := config.DefaultConfig()
	cfg.Remote.BaseURL = "https://jira.example.com"
	_, err := newClient(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), config.EnvTokenVar)
}

func TestFormatSyncTime(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "never", formatSyncTime(nil))
}
