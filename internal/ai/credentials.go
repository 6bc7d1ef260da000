package ai

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// CredentialProvider yields an API key. An empty key with a nil error
// means the provider has nothing to offer and the next one is consulted.
type CredentialProvider interface {
	APIKey() (string, error)
}

// EnvProvider reads the key from the first non-empty environment variable.
type EnvProvider struct {
	Vars []string
}

// NewEnvProvider uses the standard variable names.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{Vars: []string{"INKWELL_API_KEY", "GEMINI_API_KEY"}}
}

func (p *EnvProvider) APIKey() (string, error) {
	for _, v := range p.Vars {
		if key := strings.TrimSpace(os.Getenv(v)); key != "" {
			return key, nil
		}
	}
	return "", nil
}

// FileProvider reads and persists the key in a small JSON file under the
// user's config directory.
type FileProvider struct {
	Path string
}

type credentialFile struct {
	APIKey string `json:"api_key"`
}

func (p *FileProvider) APIKey() (string, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		// A missing cache is not an error, just an empty answer.
		return "", nil
	}
	var cf credentialFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return "", nil
	}
	return strings.TrimSpace(cf.APIKey), nil
}

// Store persists the key so later calls skip the interactive prompt.
func (p *FileProvider) Store(key string) error {
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
		return fmt.Errorf("ai: create credentials dir: %w", err)
	}
	data, err := json.MarshalIndent(credentialFile{APIKey: key}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(p.Path, data, 0o600); err != nil {
		return fmt.Errorf("ai: write credentials: %w", err)
	}
	return nil
}

// InteractiveProvider asks for the key once on the terminal and persists
// the answer through Cache for future runs.
type InteractiveProvider struct {
	In    io.Reader
	Out   io.Writer
	Cache *FileProvider
}

func (p *InteractiveProvider) APIKey() (string, error) {
	fmt.Fprint(p.Out, "Enter API key: ")
	scanner := bufio.NewScanner(p.In)
	if !scanner.Scan() {
		return "", scanner.Err()
	}
	key := strings.TrimSpace(scanner.Text())
	if key == "" {
		return "", nil
	}
	if p.Cache != nil {
		if err := p.Cache.Store(key); err != nil {
			return "", err
		}
	}
	return key, nil
}

// Chain consults providers in order and returns the first non-empty key,
// or ErrNoCredential when every provider comes up empty.
type Chain []CredentialProvider

func (c Chain) APIKey() (string, error) {
	for _, p := range c {
		key, err := p.APIKey()
		if err != nil {
			return "", err
		}
		if key != "" {
			return key, nil
		}
	}
	return "", ErrNoCredential
}

// DefaultCredentialsPath returns the credential cache location under the
// user's config directory.
func DefaultCredentialsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "inkwell", "credentials.json")
}

// StaticProvider returns a fixed key. Used when the key comes straight
// from configuration.
type StaticProvider string

func (p StaticProvider) APIKey() (string, error) {
	return string(p), nil
}
