// Package config loads chief settings from chief.yaml, CHIEF_* environment
// variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Keys
const (
	KeyStoreDriver       = "store.driver"
	KeyStoreDSN          = "store.dsn"
	KeyStoreOpTimeout    = "store.op-timeout"
	KeyStoreWriteTimeout = "store.write-timeout"

	KeyLockTimeout    = "lock.timeout"
	KeyLockStaleAfter = "lock.stale-after"

	KeyPendingStaleAfter = "pending.stale-after"

	KeyPageSize     = "pipeline.page-size"
	KeyReplyTimeout = "pipeline.reply-timeout"

	KeyExtractProvider = "extract.provider"
	KeyExtractModel    = "extract.model"
	KeyExtractTimeout  = "extract.timeout"
	KeyAnthropicAPIKey = "extract.api-key"

	KeyCategoryRules   = "category.rules"
	KeyCategoryTimeout = "category.timeout"
	KeyVendorAliases   = "vendor.aliases"

	KeyServerAddr = "server.addr"

	KeyTransportAuthToken = "transport.auth-token"
	KeyTransportPublicURL = "transport.public-url"

	KeyLogLevel = "log.level"
	KeyLogJSON  = "log.json"

	KeyTelemetryEnabled = "telemetry.enabled"
	KeyTelemetryStdout  = "telemetry.stdout"
	KeyTelemetryOTLP    = "telemetry.otlp-endpoint"
)

// FileName is the config file looked up when --config is not given.
const FileName = "chief.yaml"

var (
	mu sync.RWMutex
	v  *viper.Viper
)

// Initialize sets up the viper instance. configFile may be empty, in which
// case chief.yaml is searched for in the working directory and
// $XDG_CONFIG_HOME/chief (or ~/.config/chief). A missing file is not an
// error.
func Initialize(configFile string) error {
	nv := newViper()

	if configFile != "" {
		nv.SetConfigFile(configFile)
	} else {
		nv.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		nv.SetConfigType("yaml")
		nv.AddConfigPath(".")
		if dir := userConfigDir(); dir != "" {
			nv.AddConfigPath(filepath.Join(dir, "chief"))
		}
	}

	if err := nv.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	mu.Lock()
	v = nv
	mu.Unlock()
	return nil
}

func newViper() *viper.Viper {
	nv := viper.New()
	nv.SetEnvPrefix("CHIEF")
	nv.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	nv.AutomaticEnv()
	RegisterDefaults(nv)
	return nv
}

func userConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return xdg
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config")
}

// RegisterDefaults installs every default value.
func RegisterDefaults(nv *viper.Viper) {
	nv.SetDefault(KeyStoreDriver, "sqlite")
	nv.SetDefault(KeyStoreDSN, "chief.db")
	nv.SetDefault(KeyStoreOpTimeout, 5*time.Second)
	nv.SetDefault(KeyStoreWriteTimeout, 10*time.Second)

	nv.SetDefault(KeyLockTimeout, 2*time.Second)
	nv.SetDefault(KeyLockStaleAfter, 2*time.Minute)

	nv.SetDefault(KeyPendingStaleAfter, 72*time.Hour)

	nv.SetDefault(KeyPageSize, 8)
	nv.SetDefault(KeyReplyTimeout, 12*time.Second)

	nv.SetDefault(KeyExtractProvider, "rules")
	nv.SetDefault(KeyExtractModel, "claude-3-5-haiku-20241022")
	nv.SetDefault(KeyExtractTimeout, 8*time.Second)
	nv.SetDefault(KeyAnthropicAPIKey, "")

	nv.SetDefault(KeyCategoryTimeout, time.Second)

	nv.SetDefault(KeyServerAddr, ":8080")
	nv.SetDefault(KeyTransportAuthToken, "")
	nv.SetDefault(KeyTransportPublicURL, "")

	nv.SetDefault(KeyLogLevel, "info")
	nv.SetDefault(KeyLogJSON, true)

	nv.SetDefault(KeyTelemetryEnabled, false)
	nv.SetDefault(KeyTelemetryStdout, false)
	nv.SetDefault(KeyTelemetryOTLP, "")
}

// ResetForTesting drops any loaded file and overrides, leaving defaults and
// environment only.
func ResetForTesting() {
	mu.Lock()
	v = newViper()
	mu.Unlock()
}

func instance() *viper.Viper {
	mu.RLock()
	cur := v
	mu.RUnlock()
	if cur != nil {
		return cur
	}
	mu.Lock()
	defer mu.Unlock()
	if v == nil {
		v = newViper()
	}
	return v
}

// BindPFlag lets a command-line flag override key.
func BindPFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("bind %s: nil flag", key)
	}
	return instance().BindPFlag(key, flag)
}

// Set overrides a value for the rest of the process.
func Set(key string, value any) {
	instance().Set(key, value)
}

func GetString(key string) string          { return instance().GetString(key) }
func GetBool(key string) bool              { return instance().GetBool(key) }
func GetInt(key string) int                { return instance().GetInt(key) }
func GetDuration(key string) time.Duration { return instance().GetDuration(key) }

// GetStringMapString reads a string-to-string map such as vendor.aliases.
func GetStringMapString(key string) map[string]string {
	return instance().GetStringMapString(key)
}

// GetStringMapStringSlice reads a map whose values are keyword lists.
func GetStringMapStringSlice(key string) map[string][]string {
	return instance().GetStringMapStringSlice(key)
}

// ConfigFileUsed returns the path of the loaded file, if any.
func ConfigFileUsed() string {
	return instance().ConfigFileUsed()
}

// Watch calls onChange whenever the loaded config file is written. It is a
// no-op when no file was loaded.
func Watch(onChange func()) {
	cur := instance()
	if cur.ConfigFileUsed() == "" {
		return
	}
	cur.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		onChange()
	})
	cur.WatchConfig()
}
