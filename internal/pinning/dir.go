package pinning

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// cidPrefix tags content ids derived from the SHA-256 of the pinned bytes.
const cidPrefix = "sha256-"

// ContentID returns the content id DirService assigns to data.
func ContentID(data []byte) string {
	sum := sha256.Sum256(data)
	return cidPrefix + hex.EncodeToString(sum[:])
}

// DirService pins into a local directory, one file per content id. It is
// useful as an extra replica on a mounted or synced drive.
type DirService struct {
	name string
	dir  string
}

// NewDirService creates dir if needed.
func NewDirService(name, dir string) (*DirService, error) {
	if dir == "" {
		return nil, fmt.Errorf("pinning: %s: dir is required", name)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("pinning: %s: %w", name, err)
	}
	return &DirService{name: name, dir: dir}, nil
}

func (s *DirService) Name() string { return s.name }

func (s *DirService) Pin(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cid := ContentID(data)
	path := filepath.Join(s.dir, cid)
	if _, err := os.Stat(path); err == nil {
		return cid, nil
	}

	tmp, err := os.CreateTemp(s.dir, ".pin-*")
	if err != nil {
		return "", fmt.Errorf("%s pin: %w", s.name, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("%s pin: %w", s.name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%s pin: %w", s.name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("%s pin: %w", s.name, err)
	}
	return cid, nil
}

func (s *DirService) Unpin(ctx context.Context, cid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !strings.HasPrefix(cid, cidPrefix) || strings.ContainsAny(cid, `/\`) {
		return fmt.Errorf("%s unpin: invalid cid %q", s.name, cid)
	}
	err := os.Remove(filepath.Join(s.dir, cid))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Get reads a pinned snapshot back.
func (s *DirService) Get(cid string) ([]byte, error) {
	if !strings.HasPrefix(cid, cidPrefix) || strings.ContainsAny(cid, `/\`) {
		return nil, fmt.Errorf("%s get: invalid cid %q", s.name, cid)
	}
	return os.ReadFile(filepath.Join(s.dir, cid))
}

func (s *DirService) CheckHealth(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f, err := os.CreateTemp(s.dir, ".health-*")
	if err != nil {
		return false, err
	}
	name := f.Name()
	f.Close()
	return true, os.Remove(name)
}
