package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a YAML configuration file at path.
// If path does not exist or is empty, it returns an empty Config with no errors.
// If the YAML is malformed, it returns nil config with a parse error.
// For validation errors, it returns a valid config with invalid proxy entries
// stripped plus errors describing what was removed.
func Load(path string) (*Config, []error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, []error{fmt.Errorf("failed to read config file: %w", err)}
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return &Config{}, nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, []error{fmt.Errorf("failed to parse config YAML: %w", err)}
	}

	var validationErrors []error

	// Validate proxies: pattern and host are required, pattern must compile
	validProxies := make([]ProxyConfig, 0, len(cfg.Proxy))
	for i, p := range cfg.Proxy {
		valid := true
		if strings.TrimSpace(p.Host) == "" {
			validationErrors = append(validationErrors, fmt.Errorf("proxy[%d].host: required field missing", i))
			valid = false
		}
		if p.Port < 0 || p.Port > 65535 {
			validationErrors = append(validationErrors, fmt.Errorf("proxy[%d].port: must be between 0 and 65535, got %d", i, p.Port))
			valid = false
		}
		if p.Pattern == "" {
			validationErrors = append(validationErrors, fmt.Errorf("proxy[%d].pattern: required field missing", i))
			valid = false
		} else if re, err := regexp.Compile(p.Pattern); err != nil {
			validationErrors = append(validationErrors, fmt.Errorf("proxy[%d].pattern: %w", i, err))
			valid = false
		} else {
			p.re = re
		}
		if valid {
			validProxies = append(validProxies, p)
		}
	}
	cfg.Proxy = validProxies

	// Drop blank entry points
	entries := cfg.Build.EntryPoints[:0]
	for _, e := range cfg.Build.EntryPoints {
		if strings.TrimSpace(e) != "" {
			entries = append(entries, e)
		}
	}
	cfg.Build.EntryPoints = entries

	return &cfg, validationErrors
}
