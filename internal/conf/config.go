// Package conf loads and validates application settings from defaults,
// an optional config.yaml and RUINSCAN_* environment variables.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ruinscan/ruinscan-go/internal/errors"
)

// Settings holds the full application configuration.
type Settings struct {
	Debug bool `mapstructure:"debug"`

	Main struct {
		Name string `mapstructure:"name"`
		Log  struct {
			Enabled bool   `mapstructure:"enabled"`
			Path    string `mapstructure:"path"`
			Level   string `mapstructure:"level"`
		} `mapstructure:"log"`
	} `mapstructure:"main"`

	Service struct {
		// BaseURL of the remote analysis service, e.g. http://localhost:5000
		BaseURL     string        `mapstructure:"baseurl"`
		UploadPath  string        `mapstructure:"uploadpath"`
		SegmentPath string        `mapstructure:"segmentpath"`
		DetectPath  string        `mapstructure:"detectpath"`
		Timeout     time.Duration `mapstructure:"timeout"`
	} `mapstructure:"service"`

	Synthetic struct {
		// Seed of 0 selects a random source per process.
		Seed       uint64        `mapstructure:"seed"`
		MinLatency time.Duration `mapstructure:"minlatency"`
		MaxLatency time.Duration `mapstructure:"maxlatency"`
	} `mapstructure:"synthetic"`

	WebServer struct {
		Address    string        `mapstructure:"address"`
		PreviewTTL time.Duration `mapstructure:"previewttl"`
	} `mapstructure:"webserver"`
}

// setDefaults registers default values for all settings.
func setDefaults() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "RuinScan")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/ruinscan.log")
	viper.SetDefault("main.log.level", "info")

	viper.SetDefault("service.baseurl", "http://localhost:5000")
	viper.SetDefault("service.uploadpath", "/api/upload")
	viper.SetDefault("service.segmentpath", "/api/segment")
	viper.SetDefault("service.detectpath", "/api/detect")
	viper.SetDefault("service.timeout", 30*time.Second)

	viper.SetDefault("synthetic.seed", 0)
	viper.SetDefault("synthetic.minlatency", 600*time.Millisecond)
	viper.SetDefault("synthetic.maxlatency", 1800*time.Millisecond)

	viper.SetDefault("webserver.address", ":8090")
	viper.SetDefault("webserver.previewttl", 30*time.Minute)
}

// Load reads settings from defaults, an optional config file and the
// environment. A missing config file is not an error.
func Load() (*Settings, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/ruinscan")

	viper.SetEnvPrefix("ruinscan")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.New(err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("operation", "read_config").
				Build()
		}
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal_config").
			Build()
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Validate checks settings consistency.
func (s *Settings) Validate() error {
	if s.Service.BaseURL == "" {
		return errors.Newf("service.baseurl must not be empty").
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if strings.HasSuffix(s.Service.BaseURL, "/") {
		s.Service.BaseURL = strings.TrimRight(s.Service.BaseURL, "/")
	}
	if s.Service.Timeout <= 0 {
		return errors.Newf("service.timeout must be positive, got %s", s.Service.Timeout).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if s.Synthetic.MinLatency < 0 || s.Synthetic.MaxLatency < s.Synthetic.MinLatency {
		return errors.Newf("synthetic latency range [%s, %s] is invalid",
			s.Synthetic.MinLatency, s.Synthetic.MaxLatency).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	for _, p := range []string{s.Service.UploadPath, s.Service.SegmentPath, s.Service.DetectPath} {
		if !strings.HasPrefix(p, "/") {
			return errors.New(fmt.Errorf("service path %q must start with /", p)).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Build()
		}
	}
	return nil
}
