package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// AllowedBinaryPaths are the directories where the rtla binary is expected.
var AllowedBinaryPaths = []string{
	"/usr/bin",
	"/usr/sbin",
	"/usr/local/bin",
	"/usr/local/sbin",
}

// Resolver locates and verifies the measurement tool binary.
type Resolver struct {
	allowedPaths []string
}

// NewResolver returns a Resolver using the default allowed paths.
func NewResolver() *Resolver {
	return &Resolver{allowedPaths: AllowedBinaryPaths}
}

// NewResolverWithPaths returns a Resolver restricted to the given
// directories. Useful for non-standard installs and tests.
func NewResolverWithPaths(paths []string) *Resolver {
	return &Resolver{allowedPaths: paths}
}

// ResolveBinary finds the named tool in the allowed paths and verifies it.
func (r *Resolver) ResolveBinary(name string) (string, error) {
	for _, dir := range r.allowedPaths {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := r.verifyBinary(path); err != nil {
			return "", fmt.Errorf("binary verification for %q: %w", path, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("tool %q not found in allowed paths: %v", name, r.allowedPaths)
}

// verifyBinary checks that the binary is a root-owned regular file that is
// not world-writable.
func (r *Resolver) verifyBinary(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %q: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%q is a directory", path)
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if stat.Uid != 0 {
			return fmt.Errorf("binary %q is not owned by root (uid=%d)", path, stat.Uid)
		}
	}
	if info.Mode().Perm()&0002 != 0 {
		return fmt.Errorf("binary %q is world-writable (mode=%s)", path, info.Mode())
	}
	return nil
}
