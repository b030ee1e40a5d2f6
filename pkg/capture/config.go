package capture

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/video-system/go-canon-capture/pkg/camera"
)

// Config holds all capture configuration
type Config struct {
	Camera CameraConfig `yaml:"camera"`
	API    APIConfig    `yaml:"api"`
	Log    LogConfig    `yaml:"log"`
}

// CameraConfig configures device selection and the capture format
type CameraConfig struct {
	Device        string `yaml:"device"`         // "auto" or a /dev/bus/usb/BBB/DDD path
	Width         int    `yaml:"width"`          // 1920, 3840
	Height        int    `yaml:"height"`         // 1080, 2160
	FPS           int    `yaml:"fps"`            // 24, 30, 60
	AutoReconnect bool   `yaml:"auto_reconnect"` // reconnect to the next camera on unplug
	Simulate      bool   `yaml:"simulate"`       // use the built-in simulated camera
}

// Format returns the camera session config derived from the capture config.
func (c CameraConfig) Format() camera.Config {
	return camera.Config{Width: c.Width, Height: c.Height, FPS: c.FPS}
}

// APIConfig configures the control API
type APIConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// LogConfig configures log output
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Camera: CameraConfig{
			Device:        "auto",
			Width:         1920,
			Height:        1080,
			FPS:           30,
			AutoReconnect: true,
		},
		API: APIConfig{Port: 8080},
		Log: LogConfig{Level: "info"},
	}
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("invalid resolution %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.FPS <= 0 {
		return fmt.Errorf("invalid framerate %d", c.Camera.FPS)
	}
	if c.Camera.Device == "" {
		c.Camera.Device = "auto"
	}
	return nil
}
