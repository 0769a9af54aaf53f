package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/vsevex/carry/internal/config"
)

func flagSet() (*pflag.FlagSet, *config.Config) {
	flags := pflag.NewFlagSet("carryd", pflag.ContinueOnError)
	cfg := &config.Config{}
	cfg.Bind(flags)
	return flags, cfg
}

// fileConfig mirrors the subset of config.Config keys a config file
// fixture needs; kept separate from config.Config itself so fixtures
// can omit fields and rely on carryd's own defaults.
type fileConfig struct {
	NodeID      string `yaml:"nodeId"`
	SchemaFile  string `yaml:"schemaFile,omitempty"`
	DatabaseURL string `yaml:"databaseUrl,omitempty"`
	BindAddr    string `yaml:"bindAddr,omitempty"`
}

func writeConfigFile(t *testing.T, path string, cfg fileConfig) {
	t.Helper()
	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestLoadFromFlagsPassesPreflight(t *testing.T) {
	flags, _ := flagSet()
	require.NoError(t, flags.Parse([]string{
		"--nodeId=node-a",
		"--schemaFile=schema.json",
		"--databaseUrl=postgres://localhost/carry",
	}))

	cfg, err := config.Load(flags, "")
	require.NoError(t, err)
	require.Equal(t, "node-a", cfg.NodeID)
	require.Equal(t, ":8443", cfg.BindAddr)
	require.Equal(t, "carry_operations", cfg.DurableTable)
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	flags, _ := flagSet()
	require.NoError(t, flags.Parse(nil))

	_, err := config.Load(flags, "")
	require.Error(t, err)
}

func TestLoadPrefersConfigFileOverDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "carry.yaml")
	writeConfigFile(t, path, fileConfig{
		NodeID: "node-file", SchemaFile: "schema.json",
		DatabaseURL: "postgres://localhost/carry", BindAddr: ":9443",
	})

	flags, _ := flagSet()
	require.NoError(t, flags.Parse(nil))

	cfg, err := config.Load(flags, path)
	require.NoError(t, err)
	require.Equal(t, "node-file", cfg.NodeID)
	require.Equal(t, ":9443", cfg.BindAddr)
}

func TestWatchFileFiresOnRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "carry.yaml")
	writeConfigFile(t, path, fileConfig{NodeID: "node-a"})

	changed := make(chan struct{}, 1)
	stop, err := config.WatchFile(path, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer stop()

	writeConfigFile(t, path, fileConfig{NodeID: "node-b"})

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("WatchFile did not fire on rewrite")
	}
}
