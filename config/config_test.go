package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prepareHome(t *testing.T) string {
	_, err := os.Stat("/etc/faasctl/config.yaml")
	require.ErrorIs(t, err, os.ErrNotExist, "Config file at /etc/faasctl/config.yaml would disturb test result.")

	home := t.TempDir()
	t.Setenv("HOME", home)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(home))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return home
}

func TestLoad_Defaults(t *testing.T) {
	home := prepareHome(t)

	cfg, err := Load(New())

	assert.Nil(t, err)
	assert.Equal(t, &Config{
		APIURL:          "http://localhost:8080",
		StateDir:        filepath.Join(home, ".faasctl"),
		RequestTimeout:  10 * time.Second,
		MutationTimeout: 30 * time.Second,
		ListInterval:    5 * time.Second,
		DetailInterval:  3 * time.Second,
	}, cfg)
}

func TestLoad_ConfigFile(t *testing.T) {
	home := prepareHome(t)
	require.Nil(t, os.Mkdir(filepath.Join(home, ".faasctl"), 0750))
	require.Nil(t, os.WriteFile(filepath.Join(home, ".faasctl", "config.yaml"), []byte(`
api-url: https://faas.example.com
detail-interval: 4s
read-retries: 2
`), 0600))

	cfg, err := Load(New())

	assert.Nil(t, err)
	assert.Equal(t, "https://faas.example.com", cfg.APIURL)
	assert.Equal(t, 4*time.Second, cfg.DetailInterval)
	assert.Equal(t, uint64(2), cfg.ReadRetries)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	home := prepareHome(t)
	require.Nil(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte("api-url: https://file.example.com\n"), 0600))
	t.Setenv("FAASCTL_API_URL", "https://env.example.com")
	t.Setenv("FAASCTL_REQUEST_TIMEOUT", "2s")

	cfg, err := Load(New())

	assert.Nil(t, err)
	assert.Equal(t, "https://env.example.com", cfg.APIURL)
	assert.Equal(t, 2*time.Second, cfg.RequestTimeout)
}

func TestLoad_FlagOverridesEnv(t *testing.T) {
	prepareHome(t)
	t.Setenv("FAASCTL_API_URL", "https://env.example.com")
	v := New()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(v, flags)
	require.Nil(t, flags.Parse([]string{"--api-url", "http://flag.example.com", "-v"}))

	cfg, err := Load(v)

	assert.Nil(t, err)
	assert.Equal(t, "http://flag.example.com", cfg.APIURL)
	assert.True(t, cfg.Verbose)
	assert.Equal(t, 5*time.Second, cfg.ListInterval)
}

func TestLoad_InvalidURL(t *testing.T) {
	prepareHome(t)
	t.Setenv("FAASCTL_API_URL", "localhost:8080")

	_, err := Load(New())

	assert.Equal(t, &ErrInvalid{Key: APIURLKey, Message: "must be an absolute http or https URL"}, err)
}

func TestLoad_DetailIntervalOutOfRange(t *testing.T) {
	prepareHome(t)
	t.Setenv("FAASCTL_DETAIL_INTERVAL", "10s")

	_, err := Load(New())

	assert.EqualError(t, err, `Invalid configuration "detail-interval": must be between 3s and 5s.`)
}

func TestValidate_NonPositiveDuration(t *testing.T) {
	cfg := &Config{
		APIURL:          "http://localhost:8080",
		StateDir:        "/tmp/faasctl",
		RequestTimeout:  time.Second,
		MutationTimeout: 0,
		ListInterval:    time.Second,
		DetailInterval:  3 * time.Second,
	}

	assert.Equal(t, &ErrInvalid{Key: MutationTimeoutKey, Message: "must be positive"}, cfg.Validate())
}
