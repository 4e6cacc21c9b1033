package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1 << 20

// LoadWithFile loads configuration from a YAML or TOML file, then overrides
// with environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SERVER_HTTP_PORT, VIDEO_WINDOW_SIZE, etc.)
//  2. Config file (~/.config/vidsight/config.yaml by default)
//  3. Defaults()
//
// Files ending in .toml are parsed as TOML, everything else as YAML.
//
// # Security Considerations
//
// The file MUST have 0600 or 0400 permissions, MUST live under
// ~/.config/vidsight/ or /etc/vidsight/, and MUST NOT exceed 1MB. The file
// holds storage and model credentials.
//
// # Environment Variable Mapping
//
// Variables are lowercased and split on the first underscore:
//
//	SERVER_HTTP_PORT      -> server.http_port
//	VIDEO_WINDOW_STEP     -> video.window_step
//	STORAGE_MINIO_BUCKET  -> storage.minio_bucket
func LoadWithFile(configPath string) (*Config, error) {
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "vidsight", "config.yaml")
	}

	content, err := readConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	k := koanf.New(".")
	if content != nil {
		if err := k.Load(rawbytes.Provider(content), parserFor(configPath)); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}
	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Keys absent from both the file and the environment keep their defaults.
	cfg := Defaults()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// readConfigFile returns the file's content, or nil when it does not exist.
// The path must resolve under an allowed directory even when the file is
// missing. Mode and size are checked on the open descriptor, so the file
// cannot be swapped between check and read.
func readConfigFile(path string) ([]byte, error) {
	if err := checkConfigPath(path); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := checkConfigFile(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}
	// Read one byte past the cap so a file growing after Stat is caught.
	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(content) > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large (max %d bytes)", maxConfigFileSize)
	}
	return content, nil
}

// envKey maps SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	section, field, ok := strings.Cut(strings.ToLower(s), "_")
	if !ok {
		return section
	}
	return section + "." + field
}

func parserFor(path string) koanf.Parser {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return tomlParser{}
	}
	return yaml.Parser()
}

// tomlParser adapts BurntSushi/toml to the koanf.Parser interface.
type tomlParser struct{}

func (tomlParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if err := toml.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (tomlParser) Marshal(m map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// allowedConfigDirs holds storage and model credentials, so config is only
// read from the owner's config dir or the system one.
func allowedConfigDirs() ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return []string{filepath.Join(home, ".config", "vidsight"), "/etc/vidsight"}, nil
}

func checkConfigPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	dirs, err := allowedConfigDirs()
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		if strings.HasPrefix(abs, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/vidsight/ or /etc/vidsight/")
}

func checkConfigFile(info os.FileInfo) error {
	if perm := info.Mode().Perm(); runtime.GOOS != "windows" && perm != 0o600 && perm != 0o400 {
		return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
