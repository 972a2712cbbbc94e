package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPublic = `
jwt_ttl: 1h
attachments:
  enable: true
  size_limit_kb: 128
  post_limit_kb: 192
  num_per_post_limit: 4
  check_extensions: true
  extensions: "jpg,png,zip"
  directories:
    - id: 1
      path: /tmp/attachments
  current_directory: 1
avatars:
  max_width: 65
  max_height: 65
mentions:
  message_templates:
    mentionmem: "You have been mentioned in {msg_link}"
`

const validPrivate = `
jwt_key: 'k'
pg:
  host: localhost
  port: 5432
  user: forum
  dbname: forum
redis:
  addr: localhost:6379
`

func writeConfig(t *testing.T, public, private string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "public.yaml"), []byte(public), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "private.yaml"), []byte(private), 0o600))
	return dir
}

func TestMustLoad(t *testing.T) {
	dir := writeConfig(t, validPublic, validPrivate)

	cfg := MustLoad(dir)

	assert.Equal(t, "k", cfg.JwtKey())
	assert.Equal(t, time.Hour, cfg.JwtTTL())
	assert.Equal(t, int64(128), cfg.Public.Attachments.SizeLimitKB)
	assert.Equal(t, "/tmp/attachments", cfg.Public.Attachments.Directories[0].Path)
	assert.Equal(t, "localhost:6379", cfg.Private.Redis.Addr)

	// defaults
	assert.Equal(t, 6*time.Hour, cfg.Public.Attachments.TempTTL)
	assert.Equal(t, 15*time.Minute, cfg.Public.Avatars.CacheTTL)
	assert.Equal(t, "default", cfg.Public.Mentions.RecheckQueue)
	assert.Equal(t, 8080, cfg.Public.Server.Port)
	assert.Equal(t, 30, cfg.Public.Server.UploadsPerMinute)
	assert.Equal(t, "/metrics", cfg.Public.Server.MetricsPath)
	assert.Equal(t, 4, cfg.Public.Worker.Concurrency)
}

func TestMustLoad_RequiredFields(t *testing.T) {
	// no attachment directories configured
	public := "jwt_ttl: 1h\nattachments:\n  current_directory: 1\n"
	dir := writeConfig(t, public, validPrivate)

	assert.Panics(t, func() { MustLoad(dir) })
}

func TestMustLoad_MissingFile(t *testing.T) {
	assert.Panics(t, func() { MustLoad(t.TempDir()) })
}

func TestMaxRequestSize(t *testing.T) {
	t.Run("post limit wins", func(t *testing.T) {
		a := Attachments{PostLimitKB: 10, SizeLimitKB: 100}
		assert.Equal(t, int64(10*1024+1<<20), a.MaxRequestSize())
	})
	t.Run("size limit times count", func(t *testing.T) {
		a := Attachments{SizeLimitKB: 10, NumPerPostLimit: 2}
		assert.Equal(t, int64(2*10*1024+1<<20), a.MaxRequestSize())
	})
	t.Run("unlimited", func(t *testing.T) {
		assert.Equal(t, int64(128<<20), Attachments{}.MaxRequestSize())
	})
}
