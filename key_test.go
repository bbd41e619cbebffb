package casefs

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyEncodingGolden(t *testing.T) {
	keys := []Key{
		{Name: "PRESSURE"},
		{Name: "PRESSURE", Realization: 3, ReportStep: 10},
		{Name: "SWAT", Realization: 12, ReportStep: 1},
		{Name: "FOPR", Realization: MaxIndex, ReportStep: MaxIndex},
		{Name: "WELL.OP_1", Realization: 7, ReportStep: 365},
		{Name: "gen_data:A", ReportStep: 99},
	}
	var buf bytes.Buffer
	for _, k := range keys {
		require.NoError(t, k.Validate())
		fmt.Fprintln(&buf, k.String())
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "key_encoding", buf.Bytes())
}

func TestParseKeyRoundTrip(t *testing.T) {
	for _, k := range []Key{
		{Name: "A"},
		{Name: "WELL.OP_1", Realization: 7, ReportStep: 365},
		{Name: "x.y.z", Realization: MaxIndex, ReportStep: 1},
	} {
		got, err := ParseKey(k.String())
		require.NoError(t, err, k.String())
		assert.Equal(t, k, got)
	}
}

func TestParseKeyErrors(t *testing.T) {
	for _, s := range []string{
		"",
		"NAME",
		"NAME.0000000001",
		".0000000001.0000000002",
		"NAME.1.2",
		"NAME.000000000a.0000000002",
		"NAME.+000000001.0000000002",
		"NAME.4294967296.0000000000",
		"A/B.0000000000.0000000000",
	} {
		_, err := ParseKey(s)
		assert.ErrorIs(t, err, ErrInvalidKey, s)
	}
}

func TestKeyValidate(t *testing.T) {
	tests := []struct {
		name string
		key  Key
	}{
		{"EmptyName", Key{}},
		{"LongName", Key{Name: strings.Repeat("N", MaxNameLen+1)}},
		{"Slash", Key{Name: "a/b"}},
		{"Backslash", Key{Name: `a\b`}},
		{"NUL", Key{Name: "a\x00b"}},
		{"NegativeRealization", Key{Name: "A", Realization: -1}},
		{"NegativeStep", Key{Name: "A", ReportStep: -1}},
		{"HugeStep", Key{Name: "A", ReportStep: MaxIndex + 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.key.Validate(), ErrInvalidKey)
		})
	}
	assert.NoError(t, Key{Name: strings.Repeat("N", MaxNameLen)}.Validate())
}

func TestKeyOrder(t *testing.T) {
	var keys []Key
	for r := range 12 {
		for s := range 12 {
			keys = append(keys, Key{Name: "SWAT", Realization: 11 - r, ReportStep: s * 7})
		}
	}
	enc := make([]string, len(keys))
	for i, k := range keys {
		enc[i] = k.String()
	}
	sort.Strings(enc)

	for i := 1; i < len(enc); i++ {
		a, err := ParseKey(enc[i-1])
		require.NoError(t, err)
		b, err := ParseKey(enc[i])
		require.NoError(t, err)
		less := a.Realization < b.Realization || (a.Realization == b.Realization && a.ReportStep < b.ReportStep)
		assert.True(t, less, "%s before %s", enc[i-1], enc[i])
	}
}
