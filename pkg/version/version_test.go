package version

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBumpPrerelease(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"1.2.3-rc7", "1.2.3-rc8", false},
		{"1.2.3-rc07", "1.2.3-rc08", false},
		{"1.2.3-rc09", "1.2.3-rc10", false},
		{"0.1.0-dev99", "0.1.0-dev100", false},
		{"2.0.1-beta.4", "2.0.1-beta.5", false},
		{"2.0.1-rc1+build5", "2.0.1-rc2", false},
		{"2.0.1", "", true},
		{"2.0.1-rc", "", true},
		{"2.0.1-7", "", true},
		{"not-a-version", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := BumpPrerelease(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsNewer(t *testing.T) {
	newer, err := IsNewer("2.0.1", "2.0.0")
	require.NoError(t, err)
	assert.True(t, newer)

	newer, err = IsNewer("2.0.0-rc1", "2.0.0")
	require.NoError(t, err)
	assert.False(t, newer)

	newer, err = IsNewer("1.0.0", "1.0.0")
	require.NoError(t, err)
	assert.False(t, newer)

	_, err = IsNewer("1.0", "1.0.0")
	assert.Error(t, err)
}

func TestBumpFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "version.txt")
	require.NoError(t, os.WriteFile(path, []byte("1.4.0-rc03\n"), 0644))

	next, bumped, err := BumpFile(path)
	require.NoError(t, err)
	assert.True(t, bumped)
	assert.Equal(t, "1.4.0-rc04", next)

	current, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1.4.0-rc04", current)

	require.NoError(t, os.WriteFile(path, []byte("1.4.0\n"), 0644))
	next, bumped, err = BumpFile(path)
	require.NoError(t, err)
	assert.False(t, bumped)
	assert.Equal(t, "1.4.0", next)
}

func TestReadFile_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "version.txt")
	require.NoError(t, os.WriteFile(path, []byte("\n"), 0644))

	_, err := ReadFile(path)
	assert.Error(t, err)
}
