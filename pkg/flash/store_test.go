package flash

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/matt-g-everett/logger/pkg/ota"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesTable(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, 64)
	require.NoError(t, err)

	assert.Equal(t, "ota_0", s.Running().Label)
	assert.Equal(t, "ota_0", s.Boot().Label)

	next, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "ota_1", next.Label)
	assert.Equal(t, int64(64), next.Size)

	for _, name := range []string{"ota_0.bin", "ota_1.bin", "otadata.json"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestWriteFinalizeAndSwitch(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, 64)
	require.NoError(t, err)

	next, _ := s.Next()
	w, err := s.Begin(next)
	require.NoError(t, err)

	_, err = w.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = w.Write([]byte("world"))
	require.NoError(t, err)
	require.NoError(t, w.Finalize())
	require.NoError(t, s.SetBoot(next))

	assert.Equal(t, "ota_1", s.Boot().Label)
	assert.Equal(t, "ota_0", s.Running().Label)

	image, err := os.ReadFile(filepath.Join(dir, "ota_1.bin"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(image))

	// After a restart the new image is the running one.
	reopened, err := Open(dir, 64)
	require.NoError(t, err)
	assert.Equal(t, "ota_1", reopened.Running().Label)
	assert.Equal(t, "ota_1", reopened.Boot().Label)

	target, _ := reopened.Next()
	assert.Equal(t, "ota_0", target.Label)

	infos, err := reopened.Partitions()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.True(t, infos[1].Running)
	assert.True(t, infos[1].Boot)
	assert.Equal(t, int64(11), infos[1].ImageBytes)
}

func TestBegin_RefusesRunningPartition(t *testing.T) {
	s, err := Open(t.TempDir(), 64)
	require.NoError(t, err)

	_, err = s.Begin(s.Running())
	assert.Error(t, err)

	_, err = s.Begin(ota.Partition{Label: "factory", Index: 5})
	assert.Error(t, err)
}

func TestWrite_BoundedByCapacity(t *testing.T) {
	s, err := Open(t.TempDir(), 8)
	require.NoError(t, err)

	next, _ := s.Next()
	w, err := s.Begin(next)
	require.NoError(t, err)

	_, err = w.Write([]byte("12345"))
	require.NoError(t, err)
	_, err = w.Write([]byte("6789"))
	assert.Error(t, err)
	_, err = w.Write([]byte("678"))
	assert.NoError(t, err)
}

func TestFinalize_RejectsEmptyImage(t *testing.T) {
	s, err := Open(t.TempDir(), 8)
	require.NoError(t, err)

	next, _ := s.Next()
	w, err := s.Begin(next)
	require.NoError(t, err)

	assert.Error(t, w.Finalize())
	assert.NoError(t, w.Discard())
}

func TestDiscard_LeavesBootSelector(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 64)
	require.NoError(t, err)

	next, _ := s.Next()
	w, err := s.Begin(next)
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)

	require.NoError(t, w.Discard())
	require.NoError(t, w.Discard())
	_, err = w.Write([]byte("more"))
	assert.Error(t, err)

	assert.Equal(t, "ota_0", s.Boot().Label)
}

func TestOpen_RecoversInvalidOtadata(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "otadata.json"), []byte(`{"boot":7,"seq":2}`), 0644))

	s, err := Open(dir, 64)
	require.NoError(t, err)
	assert.Equal(t, "ota_0", s.Running().Label)
}
