package provider

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// ResolveBinary locates the first runnable executable among candidates.
// Bare names are looked up on PATH; paths are checked on disk. Returns
// ErrBinaryNotFound when nothing matches.
func ResolveBinary(candidates ...string) (string, error) {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if filepath.Base(c) == c {
			if p, err := exec.LookPath(c); err == nil {
				return p, nil
			}
			continue
		}
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", ErrBinaryNotFound
}

// ResolveFile locates name in the first of dirs that contains it. An
// absolute name that exists is returned as-is. Returns ErrModelNotFound
// wrapped with the requested name when nothing matches.
func ResolveFile(name string, dirs ...string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: no model specified", ErrModelNotFound)
	}
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
		return "", fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}
	for _, dir := range dirs {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrModelNotFound, name)
}
