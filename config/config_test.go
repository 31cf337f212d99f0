package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, `
database:
  driver: sqlite
  dsn: movies.db
trigger:
  mode: direct
  secret: s3cret
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 5*time.Second, cfg.Trigger.Timeout)
	assert.Equal(t, 4, cfg.Pipeline.SceneConcurrency)
	assert.Equal(t, 2*time.Hour, cfg.Pipeline.RunTimeout)
	assert.Equal(t, []string{"1080p", "720p", "480p"}, cfg.Pipeline.Qualities)
	assert.Equal(t, "ffmpeg", cfg.Pipeline.FFmpegPath)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, `
database:
  driver: mysql
  dsn: "root@tcp(db:3306)/movies"
redis:
  addr: "redis:6379"
trigger:
  secret: from-file
pipeline:
  scene_concurrency: 2
`)
	t.Setenv("TRIGGER_SECRET", "from-env")
	t.Setenv("PIPELINE_SCENE_CONCURRENCY", "8")
	t.Setenv("PIPELINE_RUN_TIMEOUT", "45m")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Trigger.Secret)
	assert.Equal(t, 8, cfg.Pipeline.SceneConcurrency)
	assert.Equal(t, 45*time.Minute, cfg.Pipeline.RunTimeout)
	assert.Equal(t, "queue", cfg.Trigger.Mode)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DB_DRIVER=sqlite\nDB_DSN=dev.db\nTRIGGER_MODE=direct\nTRIGGER_SECRET=dotenv\n"), 0o600))
	t.Cleanup(func() {
		for _, k := range []string{"DB_DRIVER", "DB_DSN", "TRIGGER_MODE", "TRIGGER_SECRET"} {
			os.Unsetenv(k)
		}
	})

	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "dotenv", cfg.Trigger.Secret)
}

func TestValidateReportsAllProblems(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, `
database:
  driver: postgres
trigger:
  mode: http
pipeline:
  qualities: ["1080p", "8k"]
`)
	_, err := Load(path)
	require.Error(t, err)
	for _, want := range []string{
		"database.dsn is required",
		`database.driver "postgres" is not supported`,
		"trigger.execute_url is required in http mode",
		"trigger.secret is required",
		"redis.addr is required",
		`unknown tier "8k"`,
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateObjectStorageNeedsDomain(t *testing.T) {
	t.Chdir(t.TempDir())
	base := `
database:
  driver: sqlite
  dsn: movies.db
trigger:
  mode: direct
  secret: s3cret
minio:
  endpoint: "127.0.0.1:9000"
  bucket: movies
`
	_, err := Load(writeConfig(t, base))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "minio.domain is required when minio.endpoint is set")

	cfg, err := Load(writeConfig(t, base+"  domain: \"https://media.example.com\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "https://media.example.com", cfg.MinIO.Domain)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "database: [unclosed"))
	assert.ErrorContains(t, err, "parse config")
}
