package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/storeforge/pkg/log"
	"github.com/cuemby/storeforge/pkg/policy"
	"github.com/cuemby/storeforge/pkg/reconciler"
	"github.com/cuemby/storeforge/pkg/release"
	"github.com/cuemby/storeforge/pkg/storage"
	"github.com/cuemby/storeforge/pkg/types"
	"gopkg.in/yaml.v3"
)

// Default values
const (
	DefaultDataDir    = "./data"
	DefaultChartRef   = "charts/medusa-store"
	DefaultHTTPAddr   = ":12000"
	DefaultGRPCAddr   = ":12001"
	DefaultHelmDriver = "secret"
)

// Duration is a time.Duration written as a string ("10s", "15m") in YAML
type Duration time.Duration

// UnmarshalYAML parses a duration string
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", value.Line, s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration as a string
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the storeforge configuration file
type Config struct {
	DataDir   string          `yaml:"dataDir"`
	Storage   StorageConfig   `yaml:"storage"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Policy    PolicyConfig    `yaml:"policy"`
	Readiness ReadinessConfig `yaml:"readiness"`
	Kube      KubeConfig      `yaml:"kube"`
	Helm      HelmConfig      `yaml:"helm"`
	Charts    ChartsConfig    `yaml:"charts"`
	Log       LogConfig       `yaml:"log"`
	API       APIConfig       `yaml:"api"`
}

type StorageConfig struct {
	Driver storage.Driver `yaml:"driver"`
}

type ReconcileConfig struct {
	Interval    Duration `yaml:"interval"`
	Concurrency int      `yaml:"concurrency"`
	CallTimeout Duration `yaml:"callTimeout"`
}

type PolicyConfig struct {
	ProvisionTimeout    Duration `yaml:"provisionTimeout"`
	MaxTransientRetries int      `yaml:"maxTransientRetries"`
}

type ReadinessConfig struct {
	Mode       reconciler.ReadinessMode `yaml:"mode"`
	BaseDomain string                   `yaml:"baseDomain"`
	// ProbeAddress routes hard readiness probes through a fixed host:port,
	// usually the ingress controller, instead of resolving store hosts
	ProbeAddress string   `yaml:"probeAddress,omitempty"`
	ProbeTimeout Duration `yaml:"probeTimeout"`
}

type KubeConfig struct {
	Kubeconfig string `yaml:"kubeconfig,omitempty"`
	Context    string `yaml:"context,omitempty"`
}

type HelmConfig struct {
	Driver  string   `yaml:"driver"`
	Timeout Duration `yaml:"timeout"`
}

// ChartsConfig maps engine and template to a chart. The template "*"
// matches any template without its own entry.
type ChartsConfig map[types.Engine]map[string]release.ChartConfig

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type APIConfig struct {
	HTTPAddr string `yaml:"httpAddr"`
	GRPCAddr string `yaml:"grpcAddr"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	p := policy.Default()
	return &Config{
		DataDir: DefaultDataDir,
		Storage: StorageConfig{Driver: storage.DriverSQLite},
		Reconcile: ReconcileConfig{
			Interval:    Duration(reconciler.DefaultInterval),
			Concurrency: 1,
			CallTimeout: Duration(reconciler.DefaultCallTimeout),
		},
		Policy: PolicyConfig{
			ProvisionTimeout:    Duration(p.ProvisionTimeout),
			MaxTransientRetries: p.MaxTransientRetries,
		},
		Readiness: ReadinessConfig{
			Mode:         reconciler.ReadinessSoft,
			BaseDomain:   reconciler.DefaultBaseDomain,
			ProbeTimeout: Duration(5 * time.Second),
		},
		Helm: HelmConfig{
			Driver:  DefaultHelmDriver,
			Timeout: Duration(release.DefaultTimeout),
		},
		Charts: ChartsConfig{
			types.EngineMedusa: {
				release.AnyTemplate: {Ref: DefaultChartRef},
			},
		},
		Log: LogConfig{Level: "info"},
		API: APIConfig{
			HTTPAddr: DefaultHTTPAddr,
			GRPCAddr: DefaultGRPCAddr,
		},
	}
}

// Load reads the file at path over the defaults. An empty path returns the
// defaults. Relative chart and values paths are resolved against the
// file's directory.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// A file that sets charts replaces the default catalog entirely.
	cfg.Charts = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.Charts == nil {
		cfg.Charts = Default().Charts
	} else {
		cfg.Charts.resolvePaths(filepath.Dir(path))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c ChartsConfig) resolvePaths(dir string) {
	for _, templates := range c {
		for name, entry := range templates {
			if entry.ValuesFile != "" && !filepath.IsAbs(entry.ValuesFile) {
				entry.ValuesFile = filepath.Join(dir, entry.ValuesFile)
			}
			if isLocalPath(entry.Ref) && !filepath.IsAbs(entry.Ref) {
				if _, err := os.Stat(filepath.Join(dir, entry.Ref)); err == nil {
					entry.Ref = filepath.Join(dir, entry.Ref)
				}
			}
			templates[name] = entry
		}
	}
}

// isLocalPath reports whether ref looks like a filesystem path rather than
// an OCI, URL or repo/chart reference
func isLocalPath(ref string) bool {
	return ref != "" && !strings.Contains(ref, "://")
}

// Validate checks the configuration for values the service cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("dataDir is required"))
	}
	switch c.Storage.Driver {
	case storage.DriverBolt, storage.DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if c.Reconcile.Interval <= 0 {
		errs = append(errs, errors.New("reconcile.interval must be positive"))
	}
	if c.Reconcile.Concurrency < 1 {
		errs = append(errs, errors.New("reconcile.concurrency must be at least 1"))
	}
	if c.Reconcile.CallTimeout <= 0 {
		errs = append(errs, errors.New("reconcile.callTimeout must be positive"))
	}
	if c.Policy.ProvisionTimeout <= 0 {
		errs = append(errs, errors.New("policy.provisionTimeout must be positive"))
	}
	if c.Policy.MaxTransientRetries < 0 {
		errs = append(errs, errors.New("policy.maxTransientRetries must not be negative"))
	}
	if !c.Readiness.Mode.Valid() {
		errs = append(errs, fmt.Errorf("readiness.mode: unknown mode %q", c.Readiness.Mode))
	}
	if c.Readiness.BaseDomain == "" {
		errs = append(errs, errors.New("readiness.baseDomain is required"))
	}
	switch c.Helm.Driver {
	case "secret", "secrets", "configmap", "configmaps", "memory", "sql":
	default:
		errs = append(errs, fmt.Errorf("helm.driver: unknown driver %q", c.Helm.Driver))
	}
	if len(c.Charts) == 0 {
		errs = append(errs, errors.New("charts: at least one chart is required"))
	}
	for engine, templates := range c.Charts {
		if !engine.Valid() {
			errs = append(errs, fmt.Errorf("charts: unknown engine %q", engine))
		}
		for name, entry := range templates {
			if entry.Ref == "" {
				errs = append(errs, fmt.Errorf("charts.%s.%s: ref is required", engine, name))
			}
		}
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	return errors.Join(errs...)
}

// FailurePolicy returns the failure policy described by the configuration
func (c *Config) FailurePolicy() policy.Policy {
	return policy.Policy{
		ProvisionTimeout:    c.Policy.ProvisionTimeout.Std(),
		MaxTransientRetries: c.Policy.MaxTransientRetries,
	}
}
