// Package config resolves covergen's build-time options once per run.
//
// Sources, lowest precedence first: built-in defaults, the covers.yaml config
// file, COVERS_* environment variables, command-line flags. The resolved Options
// value is immutable and shared by every later stage.
package config

import (
	"errors"
	"fmt"
	"go/token"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	diag "github.com/toejough/covers/covergen/run/0_diag"
)

// Keys and defaults.
const (
	PrefixKey   = "prefix"
	TagKey      = "tag"
	ConfigKey   = "config"
	DryRunKey   = "dry-run"
	VerboseKey  = "verbose"
	LogFileKey  = "log.file"
	LogLevelKey = "log.level"

	logMaxSizeKey    = "log.max_size"
	logMaxBackupsKey = "log.max_backups"
	logMaxAgeKey     = "log.max_age"
	logCompressKey   = "log.compress"

	// DefaultPrefix is the single separator prepended to mangled originals.
	DefaultPrefix = "_"
	// DefaultTag is the build tag that switches dispatch wrappers to substitutes.
	DefaultTag = "covers"

	// PrefixDouble and PrefixOrig are the recognized alternate prefixes.
	PrefixDouble = "__"
	PrefixOrig   = "_orig_"

	configBaseName = "covers"
	configFileName = configBaseName + ".yaml"
	envPrefix      = "COVERS"

	defaultLogMaxSize    = 10
	defaultLogMaxBackups = 3
	defaultLogMaxAge     = 28
)

// Options holds everything configurable about one generation run.
type Options struct {
	// Prefix is the name-mangling prefix.
	Prefix string
	// Tag is the build tag under which dispatch wrappers call substitutes.
	Tag string
	// DryRun prints diffs instead of writing files.
	DryRun bool
	Log    LogOptions
}

// LogOptions configures the slog handler and its optional rotating file.
type LogOptions struct {
	File       string
	Level      slog.Level
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// Known reports whether the prefix is one of the recognized values.
func (o Options) Known() bool {
	switch o.Prefix {
	case DefaultPrefix, PrefixDouble, PrefixOrig:
		return true
	default:
		return false
	}
}

// Defaults returns the options used when nothing is configured.
func Defaults() Options {
	return Options{
		Prefix: DefaultPrefix,
		Tag:    DefaultTag,
		Log: LogOptions{
			Level:      slog.LevelWarn,
			MaxSize:    defaultLogMaxSize,
			MaxBackups: defaultLogMaxBackups,
			MaxAge:     defaultLogMaxAge,
			Compress:   true,
		},
	}
}

// RegisterFlags adds the configuration flags to a flag set.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String(PrefixKey, DefaultPrefix, "prefix for renamed originals (e.g. _, __, _orig_)")
	flags.String(TagKey, DefaultTag, "build tag that selects substitutes")
	flags.String(ConfigKey, "", "path to a covers.yaml config file")
	flags.Bool(DryRunKey, false, "print a diff of the changes instead of writing files")
	flags.BoolP(VerboseKey, "v", false, "log at debug level")
	flags.String("log-file", "", "write logs to a rotating file")
}

// Load resolves options from defaults, config file, environment and flags.
//
// getEnv is consulted for COVERS_* variables so callers control the environment.
func Load(flags *pflag.FlagSet, getEnv func(string) string) (Options, error) {
	vip := viper.New()
	setDefaults(vip)

	err := readConfigFile(vip, flags)
	if err != nil {
		return Options{}, err
	}

	err = vip.MergeConfigMap(envOverrides(getEnv))
	if err != nil {
		return Options{}, fmt.Errorf("failed to merge environment: %w", err)
	}

	err = bindFlags(vip, flags)
	if err != nil {
		return Options{}, err
	}

	opts := Options{
		Prefix: vip.GetString(PrefixKey),
		Tag:    vip.GetString(TagKey),
		DryRun: vip.GetBool(DryRunKey),
		Log: LogOptions{
			File:       vip.GetString(LogFileKey),
			Level:      ParseLevel(vip.GetString(LogLevelKey), slog.LevelWarn),
			MaxSize:    vip.GetInt(logMaxSizeKey),
			MaxBackups: vip.GetInt(logMaxBackupsKey),
			MaxAge:     vip.GetInt(logMaxAgeKey),
			Compress:   vip.GetBool(logCompressKey),
		},
	}

	if vip.GetBool(VerboseKey) {
		opts.Log.Level = slog.LevelDebug
	}

	err = opts.Validate()
	if err != nil {
		return Options{}, err
	}

	return opts, nil
}

// ParseLevel maps a level name or number to a slog level.
func ParseLevel(value string, defaultLevel slog.Level) slog.Level {
	level := strings.ToLower(strings.TrimSpace(value))

	switch level {
	case "":
		return defaultLevel
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}

	if n, err := strconv.Atoi(level); err == nil {
		return slog.Level(n)
	}

	return defaultLevel
}

// Validate rejects degenerate options.
//
// The prefix must be non-empty and must not start with an upper-case letter:
// mangled originals are always unexported so renaming never widens visibility.
func (o Options) Validate() error {
	if o.Prefix == "" {
		return invalid("prefix is empty; mangled names would collide with the originals")
	}

	if !prefixPattern.MatchString(o.Prefix) {
		return invalid("prefix %q must start with '_' or a lower-case letter and contain only identifier characters",
			o.Prefix)
	}

	if !tagPattern.MatchString(o.Tag) {
		return invalid("build tag %q is not a valid build constraint term", o.Tag)
	}

	return nil
}

func bindFlags(vip *viper.Viper, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}

	bindings := map[string]string{
		PrefixKey:  PrefixKey,
		TagKey:     TagKey,
		DryRunKey:  DryRunKey,
		VerboseKey: VerboseKey,
		LogFileKey: "log-file",
	}

	for key, name := range bindings {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}

		err := vip.BindPFlag(key, flag)
		if err != nil {
			return fmt.Errorf("failed to bind flag %q: %w", name, err)
		}
	}

	return nil
}

// envOverrides builds a nested config map from COVERS_* variables.
func envOverrides(getEnv func(string) string) map[string]any {
	overrides := map[string]any{}

	if getEnv == nil {
		return overrides
	}

	for _, key := range []string{
		PrefixKey, TagKey, LogFileKey, LogLevelKey,
		logMaxSizeKey, logMaxBackupsKey, logMaxAgeKey, logCompressKey,
	} {
		value := getEnv(envName(key))
		if value == "" {
			continue
		}

		section, leaf, nested := strings.Cut(key, ".")
		if !nested {
			overrides[key] = value
			continue
		}

		sub, ok := overrides[section].(map[string]any)
		if !ok {
			sub = map[string]any{}
			overrides[section] = sub
		}

		sub[leaf] = value
	}

	return overrides
}

// envName maps a config key to its environment variable: log.max_size -> COVERS_LOG_MAX_SIZE.
func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

func invalid(format string, args ...any) error {
	return diag.New(diag.ErrInvalidConfiguration, "", "", token.Position{}, format, args...)
}

func readConfigFile(vip *viper.Viper, flags *pflag.FlagSet) error {
	path := ""

	if flags != nil {
		if flag := flags.Lookup(ConfigKey); flag != nil {
			path = flag.Value.String()
		}
	}

	if path == "" {
		vip.SetConfigName(configBaseName)
		vip.SetConfigType("yaml")
		vip.AddConfigPath(".")
	} else {
		vip.SetConfigFile(path)
	}

	err := vip.ReadInConfig()
	if err == nil {
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	if path == "" && errors.As(err, &notFound) {
		return nil
	}

	return diag.New(diag.ErrInvalidConfiguration, "", "", token.Position{}, "failed to read %s: %v",
		orDefault(path, configFileName), err)
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}

	return value
}

func setDefaults(vip *viper.Viper) {
	defaults := Defaults()

	vip.SetDefault(PrefixKey, defaults.Prefix)
	vip.SetDefault(TagKey, defaults.Tag)
	vip.SetDefault(DryRunKey, false)
	vip.SetDefault(VerboseKey, false)
	vip.SetDefault(LogFileKey, "")
	vip.SetDefault(LogLevelKey, "warn")
	vip.SetDefault(logMaxSizeKey, defaults.Log.MaxSize)
	vip.SetDefault(logMaxBackupsKey, defaults.Log.MaxBackups)
	vip.SetDefault(logMaxAgeKey, defaults.Log.MaxAge)
	vip.SetDefault(logCompressKey, defaults.Log.Compress)
}

// unexported variables.
var (
	prefixPattern = regexp.MustCompile(`^[_a-z][_A-Za-z0-9]*$`)
	tagPattern    = regexp.MustCompile(`^[A-Za-z0-9_.]+$`)
)
