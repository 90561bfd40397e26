package process

import (
	"os"
	"strings"
)

// Placeholder replaces every secret occurrence in persisted text.
const Placeholder = "[REDACTED]"

// Redactor removes known secrets from text before it is persisted into
// evidence, events, or receipts.
type Redactor struct {
	secrets []string
}

// NewRedactor builds a redactor over the given secrets. Empty strings
// are ignored.
func NewRedactor(secrets ...string) *Redactor {
	r := &Redactor{}
	for _, s := range secrets {
		if s != "" {
			r.secrets = append(r.secrets, s)
		}
	}
	return r
}

// NewEnvRedactor builds a redactor over the resolved token plus the
// values of every token-bearing environment variable currently set
// (REGISTRY_TOKEN and any REGISTRIES_*_TOKEN).
func NewEnvRedactor(token string) *Redactor {
	secrets := []string{token}
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			continue
		}
		if key == "REGISTRY_TOKEN" ||
			(strings.HasPrefix(key, "REGISTRIES_") && strings.HasSuffix(key, "_TOKEN")) {
			secrets = append(secrets, value)
		}
	}
	return NewRedactor(secrets...)
}

// Redact replaces every secret occurrence in s with the placeholder.
func (r *Redactor) Redact(s string) string {
	for _, secret := range r.secrets {
		s = strings.ReplaceAll(s, secret, Placeholder)
	}
	return s
}
