package httpapi

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidatePath checks if inputPath is within allowedBaseDir
// Uses filepath.Abs and filepath.EvalSymlinks for security
func ValidatePath(inputPath, allowedBaseDir string) (string, error) {
	absInput, err := filepath.Abs(inputPath)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	resolvedBase, err := resolveBase(allowedBaseDir)
	if err != nil {
		return "", err
	}

	resolvedInput, err := filepath.EvalSymlinks(absInput)
	if err != nil {
		return "", fmt.Errorf("cannot resolve path: %w", err)
	}

	if err := within(resolvedBase, resolvedInput); err != nil {
		return "", err
	}
	return resolvedInput, nil
}

// ValidateDir checks that dir is an existing directory within allowedBaseDir
func ValidateDir(dir, allowedBaseDir string) (string, error) {
	resolved, err := ValidatePath(dir, allowedBaseDir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("directory does not exist: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", dir)
	}
	return resolved, nil
}

// ValidateOutputDir checks that dir, which need not exist yet, would be
// created within allowedBaseDir. The deepest existing ancestor is resolved
// so a symlink cannot lead out of the base.
func ValidateOutputDir(dir, allowedBaseDir string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	resolvedBase, err := resolveBase(allowedBaseDir)
	if err != nil {
		return "", err
	}

	existing, rest := absDir, ""
	for {
		resolved, err := filepath.EvalSymlinks(existing)
		if err == nil {
			full := filepath.Join(resolved, rest)
			if err := within(resolvedBase, full); err != nil {
				return "", err
			}
			return full, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("cannot resolve path: %w", err)
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return "", fmt.Errorf("cannot resolve path: %w", err)
		}
		rest = filepath.Join(filepath.Base(existing), rest)
		existing = parent
	}
}

// ValidateFileName accepts a bare file name inside the input directory
func ValidateFileName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("invalid file name: %q", name)
	}
	if strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return fmt.Errorf("file name must not contain a path: %q", name)
	}
	return nil
}

func resolveBase(allowedBaseDir string) (string, error) {
	absBase, err := filepath.Abs(allowedBaseDir)
	if err != nil {
		return "", fmt.Errorf("invalid base directory: %w", err)
	}
	resolvedBase, err := filepath.EvalSymlinks(absBase)
	if err != nil {
		return "", fmt.Errorf("cannot resolve base directory: %w", err)
	}
	return resolvedBase, nil
}

func within(base, path string) error {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return fmt.Errorf("cannot compute relative path: %w", err)
	}
	// Check for path traversal (.. or .. + separator)
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path traversal detected: %s", rel)
	}
	return nil
}
