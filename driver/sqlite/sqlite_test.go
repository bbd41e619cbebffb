package sqlite

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/hupe1980/casefs/driver"
	"github.com/hupe1980/casefs/driver/drivertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConformance(t *testing.T) {
	drivertest.Run(t, Factory{}, nil)
}

func TestValidate(t *testing.T) {
	assert.Equal(t, Kind, Factory{}.Kind())
	assert.NoError(t, Factory{}.Validate(nil))
	assert.NoError(t, Factory{}.Validate(driver.Config{ConfigJournalMode: JournalWAL}))
	assert.ErrorIs(t, Factory{}.Validate(driver.Config{ConfigJournalMode: "memory"}), driver.ErrInvalidConfig)
	assert.ErrorIs(t, Factory{}.Validate(driver.Config{"fanout": "true"}), driver.ErrInvalidConfig)
}

func TestWALFlushAndReopen(t *testing.T) {
	cfg := driver.Config{ConfigJournalMode: JournalWAL}
	dir := drivertest.Setup(t, Factory{}, cfg)

	s, err := Open(dir, cfg, driver.Options{})
	require.NoError(t, err)
	for i := range 20 {
		require.NoError(t, s.Put(fmt.Sprintf("RATE.%010d.0000000000", i), []byte{byte(i)}))
	}
	require.NoError(t, s.Flush())
	s.Close()

	s, err = Open(dir, cfg, driver.Options{})
	require.NoError(t, err)
	defer s.Close()
	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, 20)
	v, ok, err := s.Get("RATE.0000000007.0000000000")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{7}, v)
}

func TestCompact(t *testing.T) {
	dir := drivertest.Setup(t, Factory{}, nil)
	s, err := Open(dir, nil, driver.Options{})
	require.NoError(t, err)
	defer s.Close()

	for i := range 10 {
		require.NoError(t, s.Put(fmt.Sprintf("K.%010d.0000000000", i), make([]byte, 4096)))
	}
	for i := range 9 {
		require.NoError(t, s.Delete(fmt.Sprintf("K.%010d.0000000000", i)))
	}
	require.NoError(t, s.Compact())

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"K.0000000009.0000000000"}, keys)
}

func TestOpenMissingDatabase(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"), nil, driver.Options{ReadOnly: true})
	assert.Error(t, err)
}

func TestURISyntaxInPath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("'?' is not a valid file name character")
	}
	root := t.TempDir()
	dir := filepath.Join(root, "case?1#a%20b")
	require.NoError(t, Factory{}.Init(dir, nil, driver.Options{}.WithDefaults()))

	s, err := Open(dir, nil, driver.Options{})
	require.NoError(t, err)
	require.NoError(t, s.Put("SGAS.0000000001.0000000002", []byte("gas")))
	require.NoError(t, s.Flush())
	s.Close()

	assert.FileExists(t, filepath.Join(dir, dirName, fileName))
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "case?1#a%20b", entries[0].Name())

	ro, err := Open(dir, nil, driver.Options{ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()
	v, ok, err := ro.Get("SGAS.0000000001.0000000002")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("gas"), v)
}

func TestDSN(t *testing.T) {
	got := dsn("/cases/a?b#c", url.Values{"mode": {"ro"}})
	assert.Equal(t, "file:///cases/a%3Fb%23c?mode=ro", got)
}
