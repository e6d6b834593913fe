package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pamuduchat/syncshare/internal/config"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := config.DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
	if cfg.Direct.Port != 8988 {
		t.Errorf("expected owner port 8988, got %d", cfg.Direct.Port)
	}
	if cfg.Direct.DiscoveryTimeout != 20*time.Second || cfg.Direct.DiscoveryRetries != 3 ||
		cfg.Direct.RetryBackoff != 2*time.Second || cfg.Direct.StopTimeout != 5*time.Second ||
		cfg.Direct.ConnectTimeout != 10*time.Second {
		t.Errorf("unexpected direct timings %+v", cfg.Direct)
	}
	if cfg.Classic.ScanDuration != 15*time.Second {
		t.Errorf("expected 15s scan, got %v", cfg.Classic.ScanDuration)
	}
	if cfg.Sync.ChunkSize != 8192 || !cfg.Sync.VerifyHash {
		t.Errorf("unexpected sync defaults %+v", cfg.Sync)
	}
}

func TestLoadConfigFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := strings.Join([]string{
		"device:",
		"  name: tablet",
		"  data_dir: " + dir,
		"folders:",
		"  - name: Photos",
		"    path: " + dir,
		"direct:",
		"  discovery_timeout: 5s",
		"compression:",
		"  algorithm: lz4",
		"  level: 4",
	}, "\n")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Device.Name != "tablet" {
		t.Errorf("device name not loaded: %q", cfg.Device.Name)
	}
	if f, ok := cfg.Folder("Photos"); !ok || f.Path != dir {
		t.Errorf("folder not loaded: %+v", cfg.Folders)
	}
	if cfg.Direct.DiscoveryTimeout != 5*time.Second {
		t.Errorf("duration not parsed: %v", cfg.Direct.DiscoveryTimeout)
	}
	// Unset fields keep their defaults.
	if cfg.Direct.Port != 8988 {
		t.Errorf("default port lost: %d", cfg.Direct.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SYNCSHARE_DEVICE_NAME", "phone")
	t.Setenv("SYNCSHARE_DATA_DIR", dir)
	t.Setenv("SYNCSHARE_FOLDERS", "Docs="+dir+", Music="+dir)
	t.Setenv("SYNCSHARE_DIRECT_PORT", "9999")
	t.Setenv("SYNCSHARE_COMPRESSION_ENABLED", "false")

	cfg, err := config.LoadConfig("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Device.Name != "phone" || cfg.Direct.Port != 9999 || cfg.Compression.Enabled {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
	if len(cfg.Folders) != 2 || cfg.Folders[1].Name != "Music" {
		t.Errorf("folders not parsed: %+v", cfg.Folders)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"bad port", func(c *config.Config) { c.Direct.Port = 0 }},
		{"bad uuid", func(c *config.Config) { c.Classic.ServiceUUID = "nope" }},
		{"tiny chunk", func(c *config.Config) { c.Sync.ChunkSize = 1 }},
		{"unknown algorithm", func(c *config.Config) { c.Compression.Algorithm = "brotli" }},
		{"bad log level", func(c *config.Config) { c.Observability.LogLevel = "loud" }},
		{"duplicate folder", func(c *config.Config) {
			c.Folders = []config.FolderConfig{{Name: "a", Path: "/tmp"}, {Name: "a", Path: "/tmp"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.yaml")
	cfg := config.DefaultConfig()
	cfg.Device.Name = "saved"
	cfg.Device.DataDir = dir
	if err := config.Save(cfg, path); err != nil {
		t.Fatal(err)
	}
	loaded, err := config.LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Device.Name != "saved" || loaded.Direct.StopTimeout != cfg.Direct.StopTimeout {
		t.Errorf("round trip mismatch: %+v", loaded.Device)
	}
}
