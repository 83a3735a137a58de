// Package config holds the defaults shared by both commands. Defaults can be
// overridden by a .9ptool.yaml found in the working directory or any of its
// ancestors, and always by flags.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jrsharp/9ptool/internal/files"
)

// FileName is the config file searched for by Load.
const FileName = ".9ptool.yaml"

type Config struct {
	SocketPath   string   `yaml:"socket"`
	TCPPort      int      `yaml:"port"`
	Board        string   `yaml:"board"`
	BuildDir     string   `yaml:"build_dir"`
	MemoryMB     int      `yaml:"memory_mb"`
	ReadyTimeout Duration `yaml:"ready_timeout"`
}

func Default() Config {
	return Config{
		SocketPath:   "/tmp/9p.sock",
		Board:        "qemu_x86",
		BuildDir:     "build",
		MemoryMB:     32,
		ReadyTimeout: Duration(5 * time.Second),
	}
}

// Load returns the defaults overlaid with the nearest .9ptool.yaml at or
// above dir. A missing file is not an error.
func Load(dir string) (Config, error) {
	cfg := Default()
	path, err := files.FindUp(FileName, dir)
	if err != nil {
		return cfg, fmt.Errorf("searching for %s: %w", FileName, err)
	}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Duration parses YAML values like "5s" or "500ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }
