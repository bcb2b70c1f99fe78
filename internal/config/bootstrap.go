package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Bootstrap is the process's static startup configuration: where to
// listen, how to authenticate, and what filesystem paths to watch.
// Unlike the dynamic Value tree, this shape is fixed and known at
// compile time, so it is decoded straight into a Go struct.
type Bootstrap struct {
	Listen    string `yaml:"listen"`
	AuthToken string `yaml:"auth_token"`
	LogLevel  string `yaml:"log_level"`
	// Reconfig names a YAML document shaped as a RECONFIGURE command
	// envelope, {"classes": {...}, "_generation_id": N}; it is both
	// loaded once at startup and watched for later edits.
	Reconfig string          `yaml:"reconfigure_file"`
	ZoneDirs []ZoneDirConfig `yaml:"zone_dirs"`
}

// ZoneDirConfig names a directory to watch for master-file changes and
// the RR class its zones belong to.
type ZoneDirConfig struct {
	Dir   string `yaml:"dir"`
	Class string `yaml:"class"`
}

// LoadBootstrap reads and decodes a Bootstrap document from path.
func LoadBootstrap(path string) (*Bootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read bootstrap file: %w", err)
	}
	var b Bootstrap
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("config: parse bootstrap file: %w", err)
	}
	if b.Listen == "" {
		b.Listen = ":8053"
	}
	if b.LogLevel == "" {
		b.LogLevel = "info"
	}
	return &b, nil
}
