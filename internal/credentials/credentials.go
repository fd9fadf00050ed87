// Package credentials holds the bearer token handed to the engine and
// reloads it from the environment or a token file.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ErrNoSource means neither an environment variable nor a file was configured.
var ErrNoSource = errors.New("no credential source configured")

// Source says where a token comes from. File wins over Env when both are set.
type Source struct {
	Env  string
	File string
}

// Read returns the token from the source. An empty token is not an error.
func (s Source) Read() (string, error) {
	switch {
	case s.File != "":
		data, err := os.ReadFile(s.File)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", nil
			}
			return "", fmt.Errorf("read token file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	case s.Env != "":
		return strings.TrimSpace(os.Getenv(s.Env)), nil
	default:
		return "", ErrNoSource
	}
}

// Holder is a concurrency-safe token cell. It satisfies the engine's
// credential interface.
type Holder struct {
	mu     sync.RWMutex
	token  string
	source Source
}

// NewHolder creates a holder that reloads from source.
func NewHolder(source Source) *Holder {
	return &Holder{source: source}
}

// AccessToken returns the current token; ok is false when none is stored.
func (h *Holder) AccessToken() (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.token, h.token != ""
}

// Set replaces the token and reports whether it changed.
func (h *Holder) Set(token string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.token == token {
		return false
	}
	h.token = token
	return true
}

// Reload re-reads the source and reports whether the token changed.
func (h *Holder) Reload() (bool, error) {
	token, err := h.source.Read()
	if err != nil {
		return false, err
	}
	return h.Set(token), nil
}
