package driver

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
)

// Config holds driver-specific settings. It is persisted verbatim with the
// area, so values are plain strings.
type Config map[string]string

// Clone returns a copy of c. A nil config clones to an empty one.
func (c Config) Clone() Config {
	out := make(Config, len(c))
	maps.Copy(out, c)
	return out
}

// Equal reports whether c and o hold the same settings; nil equals empty.
func (c Config) Equal(o Config) bool {
	return maps.Equal(c, o)
}

// Keys returns the setting names in sorted order.
func (c Config) Keys() []string {
	return slices.Sorted(maps.Keys(c))
}

// String returns the value of key, or def if unset.
func (c Config) String(key, def string) string {
	if v, ok := c[key]; ok {
		return v
	}
	return def
}

// Int64 parses key as a base-10 integer, or returns def if unset.
func (c Config) Int64(key string, def int64) (int64, error) {
	v, ok := c[key]
	if !ok {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, v, err)
	}
	return n, nil
}

// Bool parses key as a boolean, or returns def if unset.
func (c Config) Bool(key string, def bool) (bool, error) {
	v, ok := c[key]
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, v, err)
	}
	return b, nil
}

// CheckKeys returns ErrInvalidConfig if c holds a setting not in allowed.
func (c Config) CheckKeys(allowed ...string) error {
	for _, k := range c.Keys() {
		if !slices.Contains(allowed, k) {
			return fmt.Errorf("%w: unknown setting %q", ErrInvalidConfig, k)
		}
	}
	return nil
}
