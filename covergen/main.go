// covergen renames functions annotated with //covers:mocked and generates build-tag
// dispatch wrappers under their original names. Install it with
// `go install github.com/toejough/covers/covergen@latest` and add
// `//go:generate covergen` to the packages holding mock points. Build or test with
// `-tags covers` to route every wrapper to its bound substitute.
package main

import (
	"fmt"
	"os"

	"github.com/toejough/covers/covergen/run"
	load "github.com/toejough/covers/covergen/run/2_load"
)

// main is the entry point of the covergen tool.
func main() {
	if os.Args == nil {
		return
	}

	err := run.Run(os.Args, os.Getenv, &realFileSystem{}, &realPackageLoader{dir: "."}, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// realFileSystem implements FileSystem using os package.
type realFileSystem struct{}

// ReadFile reads the file named by name and returns the contents.
func (fs *realFileSystem) ReadFile(name string) ([]byte, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", name, err)
	}

	return data, nil
}

// Remove deletes the file named by name.
func (fs *realFileSystem) Remove(name string) error {
	err := os.Remove(name)
	if err != nil {
		return fmt.Errorf("failed to remove file %s: %w", name, err)
	}

	return nil
}

// WriteFile writes data to the file named by name.
func (fs *realFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	err := os.WriteFile(name, data, perm)
	if err != nil {
		return fmt.Errorf("failed to write file %s: %w", name, err)
	}

	return nil
}

// realPackageLoader implements PackageLoader with go/packages relative to dir.
type realPackageLoader struct {
	dir string
}

// Load expands patterns and parses the matching packages.
func (pl *realPackageLoader) Load(patterns ...string) ([]*load.Package, error) {
	pkgs, err := load.Packages(pl.dir, patterns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load packages %v: %w", patterns, err)
	}

	return pkgs, nil
}
