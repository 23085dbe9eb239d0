// Package config resolves faasctl settings from flags, environment variables prefixed with
// FAASCTL and config.yaml, in that order.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	APIURLKey          = "api-url"
	StateDirKey        = "state-dir"
	RequestTimeoutKey  = "request-timeout"
	MutationTimeoutKey = "mutation-timeout"
	ListIntervalKey    = "list-interval"
	DetailIntervalKey  = "detail-interval"
	ReadRetriesKey     = "read-retries"
	VerboseKey         = "verbose"
)

const (
	minDetailInterval = 3 * time.Second
	maxDetailInterval = 5 * time.Second
)

// Config is the resolved configuration. It is read once at process start.
type Config struct {
	APIURL          string
	StateDir        string
	RequestTimeout  time.Duration
	MutationTimeout time.Duration
	ListInterval    time.Duration
	DetailInterval  time.Duration
	ReadRetries     uint64
	Verbose         bool
}

// ErrInvalid occurs when a setting has an unusable value.
type ErrInvalid struct {
	Key     string
	Message string
}

func (e ErrInvalid) Error() string {
	return fmt.Sprintf("Invalid configuration %q: %s.", e.Key, e.Message)
}

// New returns a viper instance reading environment variables and config.yaml with defaults
// applied.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("FAASCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	configPaths := []string{"/etc/faasctl", "$HOME/.faasctl", "."}
	for _, path := range configPaths {
		v.AddConfigPath(path)
	}

	v.SetDefault(APIURLKey, "http://localhost:8080")
	v.SetDefault(StateDirKey, defaultStateDir())
	v.SetDefault(RequestTimeoutKey, 10*time.Second)
	v.SetDefault(MutationTimeoutKey, 30*time.Second)
	v.SetDefault(ListIntervalKey, 5*time.Second)
	v.SetDefault(DetailIntervalKey, minDetailInterval)
	v.SetDefault(ReadRetriesKey, 0)
	v.SetDefault(VerboseKey, false)
	return v
}

// BindFlags defines the persistent flags every command accepts and binds them to v.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.String(APIURLKey, "", "base URL of the function API")
	flags.String(StateDirKey, "", "directory holding the persisted session")
	flags.Duration(RequestTimeoutKey, 0, "timeout of a single backend request")
	flags.Duration(MutationTimeoutKey, 0, "timeout of a mutation including its resync")
	flags.Duration(ListIntervalKey, 0, "refresh interval of the function list")
	flags.Duration(DetailIntervalKey, 0, "refresh interval of a single function (3s-5s)")
	flags.Uint64(ReadRetriesKey, 0, "retries of failed reads; writes and invocations are never retried")
	flags.BoolP(VerboseKey, "v", false, "log at debug level in development format")

	flags.VisitAll(func(flag *pflag.Flag) {
		mustBindPFlag(v, flag.Name, flag)
	})
}

// mustBindPFlag binds a flag that only overrides the configured value when it was set.
func mustBindPFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic("failed to bind pflag: " + err.Error())
	}
}

// Load reads config.yaml if there is one and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		APIURL:          v.GetString(APIURLKey),
		StateDir:        v.GetString(StateDirKey),
		RequestTimeout:  v.GetDuration(RequestTimeoutKey),
		MutationTimeout: v.GetDuration(MutationTimeoutKey),
		ListInterval:    v.GetDuration(ListIntervalKey),
		DetailInterval:  v.GetDuration(DetailIntervalKey),
		ReadRetries:     v.GetUint64(ReadRetriesKey),
		Verbose:         v.GetBool(VerboseKey),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every setting and returns *ErrInvalid for the first bad one.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ErrInvalid{Key: APIURLKey, Message: "must be an absolute http or https URL"}
	}
	if c.StateDir == "" {
		return &ErrInvalid{Key: StateDirKey, Message: "must not be empty"}
	}

	for key, d := range map[string]time.Duration{
		RequestTimeoutKey:  c.RequestTimeout,
		MutationTimeoutKey: c.MutationTimeout,
		ListIntervalKey:    c.ListInterval,
	} {
		if d <= 0 {
			return &ErrInvalid{Key: key, Message: "must be positive"}
		}
	}
	if c.DetailInterval < minDetailInterval || c.DetailInterval > maxDetailInterval {
		return &ErrInvalid{Key: DetailIntervalKey, Message: "must be between 3s and 5s"}
	}
	return nil
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".faasctl"
	}
	return filepath.Join(home, ".faasctl")
}
