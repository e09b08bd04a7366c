// Package devconfig loads the developer-side configuration for the
// ingest/patch-build/sign pipeline: inbox, archive and deploy directories,
// keystore path, application name, supported platforms, and the bootstrap
// patch number. The config is a declarative YAML or JSON file, sniffed by
// extension, decoded with the strict "unknown fields reject" setting.
package devconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"
)

// Config is the declarative shape of one developer-side pipeline run.
type Config struct {
	// Name is the application name this config manages archives for.
	Name string `json:"name" yaml:"name"`
	// Platforms is the closed set of platform tags this config ships for.
	Platforms []string `json:"platforms" yaml:"platforms"`

	InboxDir     string `json:"inbox_dir" yaml:"inbox_dir"`
	ArchiveDir   string `json:"archive_dir" yaml:"archive_dir"`
	DeployDir    string `json:"deploy_dir" yaml:"deploy_dir"`
	KeystorePath string `json:"keystore_path" yaml:"keystore_path"`
	ManifestPath string `json:"manifest_path" yaml:"manifest_path"`

	// BootstrapPatchNumber seeds the per-name patch counter: the first
	// minted number is BootstrapPatchNumber+1. Zero means unset, in which
	// case the counter's own default (101) applies.
	BootstrapPatchNumber int `json:"bootstrap_patch_number" yaml:"bootstrap_patch_number"`
}

// Load reads and decodes the config file at path, sniffing its format from
// the file extension: ".yaml"/".yml" via go.yaml.in/yaml/v3 with
// KnownFields(true), anything else via encoding/json with
// DisallowUnknownFields.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("devconfig: opening %s: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		err = dec.Decode(&cfg)
	default:
		dec := json.NewDecoder(f)
		dec.DisallowUnknownFields()
		err = dec.Decode(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("devconfig: parsing %s: %w", path, err)
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("devconfig: %s: \"name\" is required", path)
	}
	if len(cfg.Platforms) == 0 {
		return nil, fmt.Errorf("devconfig: %s: \"platforms\" must list at least one platform", path)
	}
	for _, dir := range []string{cfg.InboxDir, cfg.ArchiveDir, cfg.DeployDir} {
		if dir == "" {
			return nil, fmt.Errorf("devconfig: %s: inbox_dir, archive_dir and deploy_dir are all required", path)
		}
	}
	return &cfg, nil
}
