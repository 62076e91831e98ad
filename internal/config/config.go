package config

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	appdefaults "github.com/saker-ai/i2v-steer/config"

	"github.com/saker-ai/i2v-steer/internal/logger"
	"github.com/spf13/viper"
)

const envPrefix = "steer"

// EndpointsConfig represents the backend endpoint paths.
type EndpointsConfig struct {
	Process string `mapstructure:"process"`
	Reset   string `mapstructure:"reset"`
	Status  string `mapstructure:"status"`
}

// BackendConfig represents the generation backend connection.
type BackendConfig struct {
	BaseURL        string          `mapstructure:"base_url"`
	Endpoints      EndpointsConfig `mapstructure:"endpoints"`
	RequestTimeout time.Duration   `mapstructure:"request_timeout"`
}

// ControlConfig represents the dispatch tuning.
type ControlConfig struct {
	Throttle          time.Duration `mapstructure:"throttle"`
	RetriggerInterval time.Duration `mapstructure:"retrigger_interval"`
}

// PipelinesConfig represents the selectable pipelines.
type PipelinesConfig struct {
	Default     string         `mapstructure:"default"`
	AllowCustom bool           `mapstructure:"allow_custom"`
	CatalogFile string         `mapstructure:"catalog_file"`
	Catalog     []PipelineInfo `mapstructure:"catalog"`
}

// JournalConfig represents the step journal.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// TLSConfig represents optional TLS for the local bridge.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertPath string `mapstructure:"cert_path"`
	KeyPath  string `mapstructure:"key_path"`
}

// Config represents a config.
type Config struct {
	RootDir   string          `mapstructure:"-"`
	HTTPAddr  string          `mapstructure:"http_addr"`
	Host      string          `mapstructure:"host"`
	Port      int             `mapstructure:"port"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Control   ControlConfig   `mapstructure:"control"`
	Pipelines PipelinesConfig `mapstructure:"pipelines"`
	Journal   JournalConfig   `mapstructure:"journal"`
	TLS       TLSConfig       `mapstructure:"tls"`
	Log       logger.Config   `mapstructure:"log"`
}

// PipelineIDs returns the catalog ids in order.
func (c Config) PipelineIDs() []string {
	ids := make([]string, 0, len(c.Pipelines.Catalog))
	for _, p := range c.Pipelines.Catalog {
		ids = append(ids, p.ID)
	}
	return ids
}

// Load reads conf.yaml from the resolved root directory, if present, over
// the embedded defaults.
func Load() (Config, error) {
	rootDir, err := resolveRootDir()
	if err != nil {
		return Config{}, err
	}

	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigName("conf")
	v.AddConfigPath(rootDir)

	if err := v.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}
	return finish(v, rootDir)
}

// LoadConfig reads the config at configPath, or falls back to Load.
func LoadConfig(configPath string) (Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		return Load()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, err
	}

	rootDir := strings.TrimSpace(os.Getenv("STEER_ROOT_DIR"))
	if rootDir == "" {
		rootDir = filepath.Dir(absPath)
		if filepath.Base(rootDir) == "config" {
			rootDir = filepath.Dir(rootDir)
		}
	}

	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigFile(absPath)
	if err := v.MergeInConfig(); err != nil {
		return Config{}, err
	}
	return finish(v, rootDir)
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return nil, fmt.Errorf("load embedded config: %w", err)
	}

	v.SetDefault("http_addr", "")
	v.SetDefault("backend.base_url", "http://127.0.0.1:5000")
	v.SetDefault("backend.request_timeout", 0)
	v.SetDefault("control.throttle", 100*time.Millisecond)
	v.SetDefault("control.retrigger_interval", 0)
	v.SetDefault("tls.enabled", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.stdout", true)
	v.SetDefault("log.file.enabled", true)
	v.SetDefault("log.file.path", "./data/logs")
	v.SetDefault("log.file.name", "i2v-steer.log")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func finish(v *viper.Viper, rootDir string) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	cfg.RootDir = rootDir
	deriveHTTPAddr(&cfg)
	derivePaths(&cfg)
	if err := deriveCatalog(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the dispatcher cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Control.Throttle < 0 {
		return fmt.Errorf("control.throttle must not be negative, got %s", c.Control.Throttle)
	}
	if c.Control.RetriggerInterval < 0 {
		return fmt.Errorf("control.retrigger_interval must not be negative, got %s", c.Control.RetriggerInterval)
	}
	if c.Backend.RequestTimeout < 0 {
		return fmt.Errorf("backend.request_timeout must not be negative, got %s", c.Backend.RequestTimeout)
	}
	if len(c.Pipelines.Catalog) == 0 && !c.Pipelines.AllowCustom {
		return fmt.Errorf("pipelines.catalog is empty and custom pipelines are disabled")
	}
	return nil
}

func deriveHTTPAddr(cfg *Config) {
	if cfg.HTTPAddr != "" {
		return
	}
	port := cfg.Port
	if port == 0 {
		port = 8102
	}
	if cfg.Host == "" {
		cfg.HTTPAddr = fmt.Sprintf(":%d", port)
		return
	}
	cfg.HTTPAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
}

func deriveCatalog(cfg *Config) error {
	if cfg.Pipelines.CatalogFile != "" {
		catalog, err := ReadPipelineCatalog(cfg.Pipelines.CatalogFile)
		if err != nil {
			return fmt.Errorf("read pipeline catalog: %w", err)
		}
		cfg.Pipelines.Catalog = catalog
	}
	cfg.Pipelines.Catalog = normalizeCatalog(cfg.Pipelines.Catalog)
	if cfg.Pipelines.Default == "" && len(cfg.Pipelines.Catalog) > 0 {
		cfg.Pipelines.Default = cfg.Pipelines.Catalog[0].ID
	}
	return nil
}

func resolveRootDir() (string, error) {
	if root := strings.TrimSpace(os.Getenv("STEER_ROOT_DIR")); root != "" {
		return filepath.Abs(root)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := wd
	for i := 0; i < 6; i++ {
		if fileExists(filepath.Join(dir, "conf.yaml")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return wd, nil
}

func derivePaths(cfg *Config) {
	cfg.Journal.Dir = resolvePath(cfg.RootDir, cfg.Journal.Dir, filepath.Join("data", "journal"))
	cfg.TLS.CertPath = resolvePath(cfg.RootDir, cfg.TLS.CertPath, filepath.Join("certs", "server.crt"))
	cfg.TLS.KeyPath = resolvePath(cfg.RootDir, cfg.TLS.KeyPath, filepath.Join("certs", "server.key"))
	if cfg.Pipelines.CatalogFile != "" {
		cfg.Pipelines.CatalogFile = resolvePath(cfg.RootDir, cfg.Pipelines.CatalogFile, "")
	}
	if !filepath.IsAbs(cfg.Log.File.Path) && cfg.Log.File.Path != "" {
		cfg.Log.File.Path = filepath.Join(cfg.RootDir, cfg.Log.File.Path)
	}
}

func resolvePath(rootDir string, configured string, fallback string) string {
	path := strings.TrimSpace(configured)
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rootDir, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
