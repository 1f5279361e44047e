package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// source reads typed values from the merged environment. A value that does not parse is recorded
// in malformed and the default is used, so Load can report every bad key at once.
type source struct {
	values    map[string]string
	malformed []string
}

func newSource(o loaderOptions) (*source, error) {
	values, err := mergedValues(o)
	if err != nil {
		return nil, err
	}
	return &source{values: values}, nil
}

// EnvironmentValues returns the merged key/value view Load reads from, for components that must
// start before Load, such as the secret fetcher.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	return mergedValues(newLoaderOptions(opts))
}

func mergedValues(o loaderOptions) (map[string]string, error) {
	values := map[string]string{}
	if o.envFile != "" {
		fromFile, err := godotenv.Read(o.envFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", o.envFile, err)
		default:
			for k, v := range fromFile {
				values[k] = v
			}
		}
	}
	if o.useSystemEnv {
		for _, entry := range os.Environ() {
			if key, value, ok := strings.Cut(entry, "="); ok && strings.TrimSpace(key) != "" {
				values[key] = value
			}
		}
	}
	for k, v := range o.envMap {
		values[k] = v
	}
	return values, nil
}

func (s *source) raw(key string) (string, bool) {
	value := strings.TrimSpace(s.values[key])
	return value, value != ""
}

func (s *source) str(key, fallback string) string {
	if value, ok := s.raw(key); ok {
		return value
	}
	return fallback
}

func (s *source) duration(key string, fallback time.Duration) time.Duration {
	value, ok := s.raw(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		s.malformed = append(s.malformed, key)
		return fallback
	}
	return d
}

func (s *source) integer64(key string, fallback int64) int64 {
	value, ok := s.raw(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		s.malformed = append(s.malformed, key)
		return fallback
	}
	return n
}

func (s *source) integer(key string, fallback int) int {
	return int(s.integer64(key, int64(fallback)))
}

func (s *source) boolean(key string, fallback bool) bool {
	value, ok := s.raw(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		s.malformed = append(s.malformed, key)
		return fallback
	}
	return b
}

// list splits a comma separated value, dropping blanks. fallback applies when nothing remains.
func (s *source) list(key string, fallback ...string) []string {
	value, _ := s.raw(key)
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 && len(fallback) > 0 {
		return append([]string(nil), fallback...)
	}
	return out
}

// pairs reads "a=x,b=y" into a map with lower-cased keys.
func (s *source) pairs(key string) map[string]string {
	out := map[string]string{}
	for _, entry := range s.list(key) {
		k, v, ok := strings.Cut(entry, "=")
		k, v = strings.ToLower(strings.TrimSpace(k)), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			s.malformed = append(s.malformed, key)
			continue
		}
		out[k] = v
	}
	return out
}
