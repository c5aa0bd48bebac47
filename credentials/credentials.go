// Package credentials resolves secrets for the services oneagent talks to:
// generation providers, the memory server and the NATS bus. Secrets live in
// a credentials.toml readable only by its owner, one section per service:
//
//	[anthropic]
//	api_key = "sk-ant-..."
//
//	[memory]
//	token = "..."
//
// Anything missing falls back to the environment.
package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the credentials file looked up in StandardPaths.
const FileName = "credentials.toml"

// ErrInsecurePermissions is returned when the credentials file is
// accessible by group or others.
var ErrInsecurePermissions = fmt.Errorf("credentials file has insecure permissions")

// Credentials maps service names to their secrets.
type Credentials struct {
	sections map[string]section
}

type section struct {
	APIKey string `toml:"api_key"`
	Token  string `toml:"token"`
}

func (s section) secret() string {
	if s.APIKey != "" {
		return s.APIKey
	}
	return s.Token
}

// StandardPaths returns the credential file locations in priority order.
func StandardPaths() []string {
	paths := []string{FileName}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "oneagent", FileName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".oneagent", FileName))
	}
	return paths
}

// Load reads the first credentials file found in StandardPaths. No file
// is not an error: the result is nil and lookups use the environment.
func Load() (*Credentials, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		creds, err := LoadFile(path)
		return creds, path, err
	}
	return nil, "", nil
}

// LoadFile reads a credentials file. On Unix the file must not be
// readable or writable by group or others.
func LoadFile(path string) (*Credentials, error) {
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if mode := info.Mode().Perm(); mode&0077 != 0 {
			return nil, fmt.Errorf("%w: %s has mode %04o (use 0600 or 0400)", ErrInsecurePermissions, path, mode)
		}
	}

	var raw map[string]section
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	creds := &Credentials{sections: make(map[string]section, len(raw))}
	for name, s := range raw {
		if s.secret() == "" {
			continue
		}
		creds.sections[normalize(name)] = s
	}
	return creds, nil
}

// Secret returns the secret for service. Priority: the service's section,
// then the [llm] section for generation providers, then the environment.
func (c *Credentials) Secret(service string) string {
	name := normalize(service)
	if c != nil {
		if s, ok := c.sections[name]; ok {
			return s.secret()
		}
		if isProvider(name) {
			if s, ok := c.sections["llm"]; ok {
				return s.secret()
			}
		}
	}
	return os.Getenv(EnvVar(name))
}

// Services lists the sections that carry a secret.
func (c *Credentials) Services() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.sections))
	for name := range c.sections {
		out = append(out, name)
	}
	return out
}

func normalize(service string) string {
	name := strings.ToLower(strings.TrimSpace(service))
	if name == "gemini" {
		return "google"
	}
	return name
}

func isProvider(name string) bool {
	switch name {
	case "anthropic", "openai", "google":
		return true
	}
	return false
}

// EnvVar returns the environment variable consulted for service.
func EnvVar(service string) string {
	switch normalize(service) {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	case "memory":
		return "ONEAGENT_MEMORY_TOKEN"
	case "nats":
		return "NATS_TOKEN"
	default:
		return "ONEAGENT_" + strings.ToUpper(strings.ReplaceAll(service, "-", "_")) + "_TOKEN"
	}
}
