// Package settings loads the launcher's own settings file, launcher.yaml,
// next to the executable. Every key can be overridden from the environment
// with the MIHOMO_LAUNCHER_ prefix, e.g. MIHOMO_LAUNCHER_LOG_LEVEL=debug.
package settings

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"mihomo-launcher/internal/constants"
	"mihomo-launcher/internal/platform"
)

const envPrefix = "MIHOMO_LAUNCHER"

// Settings are the launcher's tunables. Relative paths are resolved against
// the directory the settings file lives in.
type Settings struct {
	EngineBinary string `mapstructure:"engine_binary"`
	WorkDir      string `mapstructure:"work_dir"`
	ConfigFile   string `mapstructure:"config_file"`
	LogDir       string `mapstructure:"log_dir"`

	Controller string `mapstructure:"controller"`
	Secret     string `mapstructure:"secret"`

	AutoRefresh     bool          `mapstructure:"auto_refresh"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	DelayTestURL    string        `mapstructure:"delay_test_url"`
	DelayTimeout    time.Duration `mapstructure:"delay_timeout"`
	STUNServer      string        `mapstructure:"stun_server"`
	LogLevel        string        `mapstructure:"log_level"`

	// Path is the settings file that was read or created.
	Path string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine_binary", filepath.Join(constants.BinDirName, platform.GetExecutableName()))
	v.SetDefault("work_dir", constants.BinDirName)
	v.SetDefault("config_file", filepath.Join(constants.BinDirName, constants.ConfigFileName))
	v.SetDefault("log_dir", constants.LogsDirName)
	v.SetDefault("controller", constants.DefaultController)
	v.SetDefault("secret", "")
	v.SetDefault("auto_refresh", constants.DefaultAutoRefresh)
	v.SetDefault("refresh_interval", constants.DefaultRefreshInterval.String())
	v.SetDefault("delay_test_url", constants.DefaultDelayTestURL)
	v.SetDefault("delay_timeout", constants.DefaultDelayTimeout.String())
	v.SetDefault("stun_server", constants.DefaultSTUNServer)
	v.SetDefault("log_level", "info")
}

// Load reads launcher.yaml from dir, writing one with the defaults on first
// run.
func Load(dir string) (*Settings, error) {
	v := viper.New()
	v.SetConfigName(constants.SettingsFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	path := filepath.Join(dir, constants.SettingsFileName+".yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading settings file: %w", err)
		}
		if err := v.SafeWriteConfigAs(path); err != nil {
			return nil, fmt.Errorf("writing settings file: %w", err)
		}
	} else {
		path = v.ConfigFileUsed()
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshalling settings: %w", err)
	}
	s.Path = path
	s.resolve(dir)
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) resolve(dir string) {
	for _, p := range []*string{&s.EngineBinary, &s.WorkDir, &s.ConfigFile, &s.LogDir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

// Validate rejects settings the launcher cannot run with.
func (s *Settings) Validate() error {
	if s.ConfigFile == "" {
		return errors.New("settings: config_file must not be empty")
	}
	if s.RefreshInterval <= 0 {
		return fmt.Errorf("settings: refresh_interval must be positive, got %s", s.RefreshInterval)
	}
	if s.DelayTimeout <= 0 {
		return fmt.Errorf("settings: delay_timeout must be positive, got %s", s.DelayTimeout)
	}
	return nil
}

// EngineLogPath is where the engine's stdout and stderr go.
func (s *Settings) EngineLogPath() string {
	return filepath.Join(s.LogDir, constants.ChildLogFileName)
}

// LauncherLogPath is the launcher's own log file.
func (s *Settings) LauncherLogPath() string {
	return filepath.Join(s.LogDir, constants.MainLogFileName)
}
