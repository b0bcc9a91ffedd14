package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	kerrors "github.com/kacchi-os/kacchi/internal/errors"
	"github.com/kacchi-os/kacchi/internal/runtime/kernel"
)

// LoadKernelConfig loads a kernel configuration from configPath. Files ending
// in .yaml or .yml are parsed as YAML, anything else as JSON. Fields absent
// from the file keep their defaults, and a missing file yields the defaults.
func LoadKernelConfig(configPath string) (*kernel.KernelConfig, error) {
	config := kernel.DefaultKernelConfig()

	if configPath == "" {
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := CheckCompatible(config.Requires); err != nil {
		return nil, err
	}

	return config, nil
}

// SaveKernelConfig writes config to configPath in the format its extension names.
func SaveKernelConfig(config *kernel.KernelConfig, configPath string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	default:
		data, err = json.MarshalIndent(config, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// CheckCompatible reports whether Version satisfies constraint. An empty
// constraint always passes.
func CheckCompatible(constraint string) error {
	if strings.TrimSpace(constraint) == "" {
		return nil
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return kerrors.InvalidConfig("requires", fmt.Sprintf("bad version constraint %q: %v", constraint, err))
	}
	v, err := semver.NewVersion(Version)
	if err != nil {
		return fmt.Errorf("kernel version %q is not semantic: %w", Version, err)
	}
	if !c.Check(v) {
		return kerrors.InvalidConfig("requires", fmt.Sprintf("kernel %s does not satisfy %q", Version, constraint))
	}
	return nil
}
