package casefs

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// MaxNameLen is the maximum length of a key name in bytes.
	MaxNameLen = 128
	// MaxIndex is the largest realization or report step.
	MaxIndex = math.MaxUint32

	indexDigits = 10
)

// Key addresses one record: a named quantity at one report step of one
// ensemble realization.
type Key struct {
	Name        string
	Realization int
	ReportStep  int
}

// Validate checks that k can be encoded.
func (k Key) Validate() error {
	switch {
	case k.Name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidKey)
	case len(k.Name) > MaxNameLen:
		return fmt.Errorf("%w: name longer than %d bytes", ErrInvalidKey, MaxNameLen)
	case strings.ContainsAny(k.Name, "\x00/\\"):
		return fmt.Errorf("%w: name %q contains a reserved character", ErrInvalidKey, k.Name)
	case k.Realization < 0 || uint64(k.Realization) > MaxIndex:
		return fmt.Errorf("%w: realization %d out of range", ErrInvalidKey, k.Realization)
	case k.ReportStep < 0 || uint64(k.ReportStep) > MaxIndex:
		return fmt.Errorf("%w: report step %d out of range", ErrInvalidKey, k.ReportStep)
	}
	return nil
}

// String returns the stable encoding NAME.RRRRRRRRRR.SSSSSSSSSS. For keys
// sharing a name, byte order of the encoding equals numeric order of
// (realization, report step).
func (k Key) String() string {
	return fmt.Sprintf("%s.%0*d.%0*d", k.Name, indexDigits, k.Realization, indexDigits, k.ReportStep)
}

// ParseKey decodes the output of Key.String.
func ParseKey(s string) (Key, error) {
	i := strings.LastIndexByte(s, '.')
	if i < 0 {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	j := strings.LastIndexByte(s[:i], '.')
	if j < 0 {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	realization, err := parseIndex(s[j+1 : i])
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q: realization: %v", ErrInvalidKey, s, err)
	}
	step, err := parseIndex(s[i+1:])
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q: report step: %v", ErrInvalidKey, s, err)
	}
	k := Key{Name: s[:j], Realization: realization, ReportStep: step}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

func parseIndex(s string) (int, error) {
	if len(s) != indexDigits {
		return 0, fmt.Errorf("want %d digits, got %d", indexDigits, len(s))
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}
