// Package auth resolves registry bearer credentials from the
// environment and the packaging tool's credentials files.
package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// DefaultRegistry is the registry name that reads the primary
// environment variable.
const DefaultRegistry = "crates-io"

// ResolveToken looks up a token for the named registry.
//
// Resolution order:
//  1. REGISTRY_TOKEN (default registry only)
//  2. REGISTRIES_<NAME>_TOKEN with the name uppercased, non-alphanumerics
//     mapped to underscores
//  3. credentials file under the tool config home: credentials.toml,
//     then the legacy credentials file
//
// A missing token is not an error: the empty string is returned.
func ResolveToken(registryName string) (string, error) {
	if tok := tokenFromEnv(registryName); tok != "" {
		return tok, nil
	}

	home, err := configHome()
	if err != nil {
		return "", err
	}
	for _, filename := range []string{"credentials.toml", "credentials"} {
		path := filepath.Join(home, filename)
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		tok, err := tokenFromCredentialsFile(path, registryName)
		if err != nil {
			return "", err
		}
		if tok != "" {
			return tok, nil
		}
	}

	return "", nil
}

func tokenFromEnv(registryName string) string {
	if registryName == DefaultRegistry {
		if v := strings.TrimSpace(os.Getenv("REGISTRY_TOKEN")); v != "" {
			return v
		}
	}
	key := "REGISTRIES_" + normalizeRegistryForEnv(registryName) + "_TOKEN"
	return strings.TrimSpace(os.Getenv(key))
}

func configHome() (string, error) {
	if ch := os.Getenv("CARGO_HOME"); ch != "" {
		return ch, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot locate home directory; set CARGO_HOME: %w", err)
	}
	return filepath.Join(home, ".cargo"), nil
}

// credentialsFile mirrors the TOML layout of the tool's credential
// store: a top-level token, a [registry] table, and per-registry
// [registries.<name>] tables.
type credentialsFile struct {
	Token      string                        `toml:"token"`
	Registry   registryCredential            `toml:"registry"`
	Registries map[string]registryCredential `toml:"registries"`
}

type registryCredential struct {
	Token string `toml:"token"`
}

func tokenFromCredentialsFile(path, registryName string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read credentials file %s: %w", path, err)
	}

	var creds credentialsFile
	if err := toml.Unmarshal(content, &creds); err != nil {
		return "", fmt.Errorf("failed to parse credentials file %s: %w", path, err)
	}

	if tok := strings.TrimSpace(creds.Registries[registryName].Token); tok != "" {
		return tok, nil
	}

	if registryName == DefaultRegistry {
		if tok := strings.TrimSpace(creds.Registry.Token); tok != "" {
			return tok, nil
		}
		// Alternate spellings the default registry shows up under.
		for _, alt := range []string{"crates.io", "crates_io"} {
			if tok := strings.TrimSpace(creds.Registries[alt].Token); tok != "" {
				return tok, nil
			}
		}
	}

	if tok := strings.TrimSpace(creds.Token); tok != "" {
		return tok, nil
	}

	return "", nil
}

func normalizeRegistryForEnv(name string) string {
	var b strings.Builder
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z':
			b.WriteRune(c - 'a' + 'A')
		case (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'):
			b.WriteRune(c)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
