package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Filesystem describes the mount backing a path.
type Filesystem struct {
	// Probed is the nearest existing ancestor that was actually inspected.
	Probed  string
	Type    string
	Network bool
}

var networkTypes = map[string]bool{
	"afpfs":  true,
	"cifs":   true,
	"nfs":    true,
	"nfs4":   true,
	"smb2":   true,
	"smbfs":  true,
	"sshfs":  true,
	"webdav": true,
}

// Inspect reports the filesystem holding path. Missing trailing components
// are allowed: the nearest existing ancestor is probed instead.
func Inspect(path string) (Filesystem, error) {
	return inspectWith(path, probeFSType)
}

func inspectWith(path string, probe func(string) (string, error)) (Filesystem, error) {
	if path == "" {
		return Filesystem{}, errors.New("path is empty")
	}
	existing, err := nearestExisting(path)
	if err != nil {
		return Filesystem{}, err
	}
	typ, err := probe(existing)
	if err != nil {
		return Filesystem{}, fmt.Errorf("probe filesystem of %s: %w", existing, err)
	}
	typ = strings.ToLower(strings.TrimSpace(typ))
	return Filesystem{Probed: existing, Type: typ, Network: networkTypes[typ]}, nil
}

// RequireLocal fails when path sits on a network mount, where SQLite file
// locking cannot be trusted.
func RequireLocal(path string) error {
	return requireLocalWith(path, probeFSType)
}

func requireLocalWith(path string, probe func(string) (string, error)) error {
	fs, err := inspectWith(path, probe)
	if err != nil {
		return err
	}
	if fs.Network {
		return fmt.Errorf("%s is on a %s network mount; keep client.state_path (CELER_STATE_PATH) on local disk", path, fs.Type)
	}
	return nil
}

func nearestExisting(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for p := abs; ; p = filepath.Dir(p) {
		_, err := os.Stat(p)
		switch {
		case err == nil:
			return p, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		case filepath.Dir(p) == p:
			return "", fmt.Errorf("no existing ancestor of %s", abs)
		}
	}
}
