package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/chatngt/chatngt/internal/defaults"
)

// runInit prepares a ChatNGT working directory: a data directory for the
// sqlite history backend, an example config and an env template.
// Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing ChatNGT workspace in %s\n", dir)

	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dataDir, err)
	}

	// The config usually ends up holding API keys.
	if err := writeIfMissing(w, filepath.Join(dir, "config.yaml"), defaults.ConfigYAML, 0o600); err != nil {
		return err
	}
	if err := writeIfMissing(w, filepath.Join(dir, ".env"), defaults.EnvExample, 0o600); err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Set GROQ_API_KEY and TAVILY_API_KEY in .env, then run: chatngt serve")
	return nil
}

// writeIfMissing writes content to path with the given mode unless the
// file already exists, and reports what it did to w.
func writeIfMissing(w io.Writer, path string, content []byte, mode os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(w, "  - %s (exists, skipping)\n", path)
		return nil
	}
	if err := os.WriteFile(path, content, mode); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", path)
	return nil
}
