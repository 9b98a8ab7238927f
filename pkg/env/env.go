// Package env reads settings that may be mounted as secret files.
package env

import (
	"bytes"
	"os"
	"path/filepath"
)

// Secret returns the contents of the file named by key_FILE when it is set
// and readable, then the key itself, then fallback. Docker and Kubernetes
// secrets are mounted this way.
func Secret(key, fallback string) string {
	if path := os.Getenv(key + "_FILE"); path != "" {
		if content, err := os.ReadFile(filepath.Clean(path)); err == nil {
			return string(bytes.TrimSpace(content))
		}
	}
	return String(key, fallback)
}

// String returns key or fallback when it is unset or empty
func String(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
