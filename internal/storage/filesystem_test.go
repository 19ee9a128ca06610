package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedProbe(typ string, seen *string) func(string) (string, error) {
	return func(p string) (string, error) {
		if seen != nil {
			*seen = p
		}
		return typ, nil
	}
}

func TestInspectProbesNearestExistingAncestor(t *testing.T) {
	root := t.TempDir()
	var seen string

	fs, err := inspectWith(filepath.Join(root, "a", "b", "history.db"), fixedProbe("EXT4", &seen))
	require.NoError(t, err)
	assert.Equal(t, root, seen)
	assert.Equal(t, root, fs.Probed)
	assert.Equal(t, "ext4", fs.Type)
	assert.False(t, fs.Network)
}

func TestInspectClassifiesNetworkMounts(t *testing.T) {
	tests := []struct {
		typ     string
		network bool
	}{
		{"nfs", true},
		{"NFS4", true},
		{" smbfs ", true},
		{"apfs", false},
		{"0x6969", false},
		{"unknown", false},
	}
	dir := t.TempDir()
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			fs, err := inspectWith(dir, fixedProbe(tt.typ, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.network, fs.Network)
		})
	}
}

func TestInspectRejectsEmptyPath(t *testing.T) {
	_, err := inspectWith("", fixedProbe("ext4", nil))
	assert.Error(t, err)
}

func TestRequireLocal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	assert.NoError(t, requireLocalWith(path, fixedProbe("xfs", nil)))

	err := requireLocalWith(path, fixedProbe("cifs", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cifs network mount")
	assert.Contains(t, err.Error(), "client.state_path")
}

func TestInspectRealTempDir(t *testing.T) {
	fs, err := Inspect(os.TempDir())
	require.NoError(t, err)
	assert.NotEmpty(t, fs.Type)
}
