// Package settings loads the proxy's process-lifetime configuration — listen
// port, upstream authority, config-source selectors — from environment
// variables. It is deliberately separate from internal/flags.FlagConfig: these
// values are read once at startup, never polled, unlike the feature-flag
// configuration the proxy fetches on every invocation.
package settings

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Settings holds the proxy's startup configuration.
type Settings struct {
	OriginalRuntimeAPI string `mapstructure:"original_runtime_api" validate:"required"`
	ListenPort         int    `mapstructure:"proxy_port"           validate:"min=1,max=65535"`
	Disabled           string `mapstructure:"disabled"`

	ParameterStoreParam string `mapstructure:"param_store_param"`

	AppConfigApplication  string `mapstructure:"appconfig_application"`
	AppConfigEnvironment  string `mapstructure:"appconfig_environment"`
	AppConfigConfiguration string `mapstructure:"appconfig_configuration"`
	AppConfigExtensionPort int   `mapstructure:"appconfig_extension_port" validate:"min=1,max=65535"`

	CacheTTLOverride string `mapstructure:"cache_ttl"`

	ScratchDir         string `mapstructure:"scratch_dir"          validate:"required"`
	ReconcileInterval  string `mapstructure:"reconcile_interval"   validate:"required"`

	Log LogSettings `mapstructure:"log"`
}

// LogSettings mirrors internal/logging.Config's knobs for env-var loading.
type LogSettings struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	Filename string `mapstructure:"filename"`
}

// IsDisabled reports whether the proxy's kill switch is engaged. Matches
// spec exactly: only the literal string "true" disables injection.
func (s Settings) IsDisabled() bool {
	return s.Disabled == "true"
}

// UsesAppConfig reports whether the application-config source is selected.
// A non-empty configuration name wins over parameter-store per spec §4.B/§9.
func (s Settings) UsesAppConfig() bool {
	return strings.TrimSpace(s.AppConfigConfiguration) != ""
}

// UsesParameterStore reports whether the parameter-store source is selected.
func (s Settings) UsesParameterStore() bool {
	return strings.TrimSpace(s.ParameterStoreParam) != ""
}

// Load reads Settings from environment variables, applying defaults, then
// validates the result.
func Load() (Settings, error) {
	v := viper.New()
	bindDefaults(v)
	if err := bindEnv(v); err != nil {
		return Settings{}, fmt.Errorf("bind environment: %w", err)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := validateSettings(s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func bindDefaults(v *viper.Viper) {
	v.SetDefault("proxy_port", 9009)
	v.SetDefault("appconfig_extension_port", 2772)
	v.SetDefault("scratch_dir", "/tmp")
	v.SetDefault("reconcile_interval", "@every 30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
}

func bindEnv(v *viper.Viper) error {
	binds := map[string]string{
		"original_runtime_api":    "_ORIGINAL_RUNTIME_API",
		"proxy_port":              "FAILURE_PROXY_PORT",
		"disabled":                "FAILURE_LAMBDA_DISABLED",
		"param_store_param":       "FAILURE_INJECTION_PARAM",
		"appconfig_application":   "FAILURE_APPCONFIG_APPLICATION",
		"appconfig_environment":   "FAILURE_APPCONFIG_ENVIRONMENT",
		"appconfig_configuration": "FAILURE_APPCONFIG_CONFIGURATION",
		"appconfig_extension_port": "AWS_APPCONFIG_EXTENSION_HTTP_PORT",
		"cache_ttl":               "FAILURE_CACHE_TTL",
		"scratch_dir":             "FAILURE_PROXY_SCRATCH_DIR",
		"reconcile_interval":      "FAILURE_PROXY_RECONCILE_INTERVAL",
		"log.level":               "FAILURE_PROXY_LOG_LEVEL",
		"log.format":              "FAILURE_PROXY_LOG_FORMAT",
		"log.output":              "FAILURE_PROXY_LOG_OUTPUT",
		"log.filename":            "FAILURE_PROXY_LOG_FILE",
	}
	for key, env := range binds {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s: %w", env, err)
		}
	}
	return nil
}

func validateSettings(s Settings) error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

// CacheTTL resolves the feature-flag cache TTL per spec §4.B:
//   - no override and appconfig source selected → 0 (appconfig already caches)
//   - no override otherwise → 60s default
//   - invalid or negative override → 60s default, with a warning logged by the caller
//   - valid override (>= 0) → that value
func (s Settings) CacheTTL(defaultTTL time.Duration) (ttl time.Duration, warnInvalid bool, warnRedundant bool) {
	raw := strings.TrimSpace(s.CacheTTLOverride)
	if raw == "" {
		if s.UsesAppConfig() {
			return 0, false, false
		}
		return defaultTTL, false, false
	}

	seconds, err := parseSeconds(raw)
	if err != nil || seconds < 0 {
		return defaultTTL, true, false
	}

	ttl = time.Duration(seconds * float64(time.Second))
	if ttl > 0 && s.UsesAppConfig() {
		return ttl, false, true
	}
	return ttl, false, false
}

func parseSeconds(raw string) (float64, error) {
	return strconv.ParseFloat(raw, 64)
}
