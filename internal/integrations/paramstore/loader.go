package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// tokenPayload is the JSON shape some secrets are stored in.
type tokenPayload struct {
	Token string `json:"token"`
}

// SecretValue unwraps a stored secret. Values of the form {"token": "..."}
// yield the token; anything else, including other JSON documents such as a
// service-account key, is returned as is.
func SecretValue(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.New("paramstore: secret is empty")
	}
	if strings.HasPrefix(trimmed, "{") {
		var tp tokenPayload
		if err := json.Unmarshal([]byte(trimmed), &tp); err == nil && tp.Token != "" {
			return tp.Token, nil
		}
	}
	return trimmed, nil
}

// Loader resolves secrets from the environment first and SSM second, and
// remembers what it found for the life of the process.
type Loader struct {
	getter    Getter
	prefix    string
	lookupEnv func(string) (string, bool)

	mu    sync.Mutex
	cache map[string]string
}

// NewLoader builds a Loader. getter may be nil, in which case only the
// environment is consulted.
func NewLoader(getter Getter, prefix string) *Loader {
	return &Loader{
		getter:    getter,
		prefix:    strings.TrimRight(strings.TrimSpace(prefix), "/"),
		lookupEnv: os.LookupEnv,
		cache:     make(map[string]string),
	}
}

// Load returns the secret from envKey when set, else from the SSM parameter
// <prefix><param>.
func (l *Loader) Load(ctx context.Context, envKey, param string) (string, error) {
	if v, ok := l.lookupEnv(envKey); ok && strings.TrimSpace(v) != "" {
		return SecretValue(v)
	}

	name := l.prefix + param
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.cache[name]; ok {
		return v, nil
	}
	if l.getter == nil {
		return "", fmt.Errorf("paramstore: %s is not set and no parameter store is configured", envKey)
	}
	raw, err := l.getter.GetParameter(ctx, name)
	if err != nil {
		return "", err
	}
	v, err := SecretValue(raw)
	if err != nil {
		return "", fmt.Errorf("paramstore: %s: %w", name, err)
	}
	l.cache[name] = v
	log.Debug().Str("param", name).Msg("secret loaded from parameter store")
	return v, nil
}

// LoadOptional is Load that treats a missing parameter as "not configured".
func (l *Loader) LoadOptional(ctx context.Context, envKey, param string) (string, error) {
	v, err := l.Load(ctx, envKey, param)
	if errors.Is(err, ErrParameterNotFound) {
		return "", nil
	}
	if err != nil && l.getter == nil {
		return "", nil
	}
	return v, err
}
