// Package config loads the service configuration from a YAML file. ${VAR} and
// ${VAR:-default} references are expanded from the environment before parsing.
package config

import (
	"TouchCounter/touch"
	"os"
	"runtime"
	"time"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// PathEnv names the variable that overrides the config file location.
const PathEnv = "TOUCH_CONFIG"

const DefaultPath = "config.yaml"

// MinSessionIdleTimeout is the shortest idle timeout the sweeper accepts.
const MinSessionIdleTimeout = time.Second

const (
	BackendGocv   = "gocv"
	BackendRemote = "remote"
)

type LogConfig struct {
	Development bool   `yaml:"development"`
	Level       string `yaml:"level"`
}

type DetectorConfig struct {
	Backend        string   `yaml:"backend"`
	ModelPath      string   `yaml:"modelPath"`
	Names          []string `yaml:"names"`
	NamesFile      string   `yaml:"namesFile"`
	InputSize      int      `yaml:"inputSize"`
	Confidence     float32  `yaml:"confidence"`
	Iou            float32  `yaml:"iou"`
	UseGPU         bool     `yaml:"useGPU"`
	RemoteURL      string   `yaml:"remoteURL"`
	TimeoutSeconds int      `yaml:"timeoutSeconds"`
}

type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type RegistryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

type Config struct {
	HTTPPort           int            `yaml:"httpPort"`
	RPCPort            int            `yaml:"rpcPort"`
	MonitorPort        int            `yaml:"monitorPort"`
	WorkersNum         int            `yaml:"workersNum"`
	SessionIdleTimeout time.Duration  `yaml:"sessionIdleTimeout"`
	// CORSAllowedOrigins lists browser origins allowed to call the HTTP API.
	// "*" allows any; an empty list turns CORS off.
	CORSAllowedOrigins []string `yaml:"corsAllowedOrigins"`
	Log                LogConfig      `yaml:"log"`
	Detector           DetectorConfig `yaml:"detector"`
	Tracking           touch.Config   `yaml:"tracking"`
	Store              StoreConfig    `yaml:"store"`
	Registry           RegistryConfig `yaml:"registry"`

	// Warnings collects non-fatal adjustments made while loading.
	Warnings []string `yaml:"-"`
}

// Default returns the configuration used for keys missing from the file.
func Default() Config {
	return Config{
		HTTPPort:           8080,
		RPCPort:            50051,
		MonitorPort:        50053,
		WorkersNum:         1,
		SessionIdleTimeout: 10 * time.Minute,
		CORSAllowedOrigins: []string{"*"},
		Detector: DetectorConfig{
			Backend:        BackendGocv,
			ModelPath:      "models/yolov8s.onnx",
			InputSize:      640,
			Confidence:     0.25,
			Iou:            0.45,
			TimeoutSeconds: 5,
		},
		Tracking: touch.DefaultConfig(),
		Store: StoreConfig{
			Path: "touches.db",
		},
	}
}

// Path returns the config file location, honouring TOUCH_CONFIG.
func Path() string {
	if p := os.Getenv(PathEnv); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads and parses the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	return Parse(data)
}

// Parse expands environment references in data, decodes it over Default()
// and validates the result.
func Parse(data []byte) (Config, error) {
	expanded, err := envsubst.Bytes(data)
	if err != nil {
		return Config{}, errors.Wrap(err, "expand environment")
	}
	cfg := Default()
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate clamps soft limits (recording a warning) and rejects values the
// service cannot run with.
func (c *Config) Validate() error {
	if c.WorkersNum <= 0 {
		c.WorkersNum = 1
		c.Warnings = append(c.Warnings, "invalid workersNum, defaulting to 1")
	} else if c.WorkersNum > runtime.NumCPU() {
		c.Warnings = append(c.Warnings, "workersNum exceeds CPU cores, which may degrade performance")
	}
	for name, port := range map[string]int{"httpPort": c.HTTPPort, "rpcPort": c.RPCPort, "monitorPort": c.MonitorPort} {
		if port <= 0 || port > 65535 {
			return errors.Errorf("%s out of range: %d", name, port)
		}
	}
	if c.SessionIdleTimeout < 0 {
		return errors.Errorf("sessionIdleTimeout must not be negative, got %s", c.SessionIdleTimeout)
	}
	if c.SessionIdleTimeout > 0 && c.SessionIdleTimeout < MinSessionIdleTimeout {
		return errors.Errorf("sessionIdleTimeout must be 0 or at least %s, got %s", MinSessionIdleTimeout, c.SessionIdleTimeout)
	}
	if c.Log.Level != "" {
		if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
			return errors.Wrap(err, "log.level")
		}
	}
	for _, o := range c.CORSAllowedOrigins {
		if o == "" {
			return errors.New("corsAllowedOrigins contains an empty origin")
		}
	}
	switch c.Detector.Backend {
	case BackendGocv:
		if c.Detector.ModelPath == "" {
			return errors.New("detector.modelPath is required for the gocv backend")
		}
		if c.Detector.InputSize <= 0 {
			return errors.Errorf("detector.inputSize must be positive, got %d", c.Detector.InputSize)
		}
	case BackendRemote:
		if c.Detector.RemoteURL == "" {
			return errors.New("detector.remoteURL is required for the remote backend")
		}
	default:
		return errors.Errorf("unsupported detector backend: %q", c.Detector.Backend)
	}
	if c.Detector.Confidence < 0 || c.Detector.Confidence > 1 {
		return errors.Errorf("detector.confidence must be between 0.0 and 1.0, got %f", c.Detector.Confidence)
	}
	if c.Detector.Iou < 0 || c.Detector.Iou > 1 {
		return errors.Errorf("detector.iou must be between 0.0 and 1.0, got %f", c.Detector.Iou)
	}
	if c.Detector.TimeoutSeconds <= 0 {
		c.Detector.TimeoutSeconds = 5
	}
	if c.Store.Enabled && c.Store.Path == "" {
		return errors.New("store.path is required when the store is enabled")
	}
	if c.Registry.Enabled && (c.Registry.Host == "" || c.Registry.Port <= 0) {
		return errors.New("registry.host and registry.port are required when registration is enabled")
	}
	return errors.Wrap(c.Tracking.Validate(), "tracking")
}
