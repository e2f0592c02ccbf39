// Package output writes rewritten sources and generated files, or shows what would change.
package output

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/akedrou/textdiff"
	"github.com/toejough/go-reorder"

	load "github.com/toejough/covers/covergen/run/2_load"
	generate "github.com/toejough/covers/covergen/run/5_generate"
)

// FileSystem is the file access the writer needs.
type FileSystem interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm os.FileMode) error
	Remove(name string) error
}

// Writer applies generation results to a file system.
type Writer struct {
	fileSys FileSystem
	out     io.Writer
	logger  *slog.Logger
	dryRun  bool
}

// New returns a writer. With dryRun set it prints unified diffs to out instead of writing.
func New(fileSys FileSystem, out io.Writer, logger *slog.Logger, dryRun bool) *Writer {
	return &Writer{fileSys: fileSys, out: out, logger: logger, dryRun: dryRun}
}

// Write writes every output whose content changed and removes stale generated files.
func (w *Writer) Write(outputs []generate.Output, stale []string) error {
	for _, output := range outputs {
		err := w.write(output)
		if err != nil {
			return err
		}
	}

	for _, path := range stale {
		err := w.remove(path)
		if err != nil {
			return err
		}
	}

	return nil
}

func (w *Writer) remove(path string) error {
	if w.dryRun {
		_, _ = fmt.Fprintf(w.out, "%s would be removed.\n", path)
		return nil
	}

	err := w.fileSys.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("error removing %s: %w", path, err)
	}

	_, _ = fmt.Fprintf(w.out, "%s removed.\n", path)

	return nil
}

func (w *Writer) write(output generate.Output) error {
	const (
		generatedFilePermissions = 0o600
		sourceFilePermissions    = 0o644
	)

	content := output.Content
	perm := os.FileMode(sourceFilePermissions)

	if output.Generated {
		perm = generatedFilePermissions

		// Reorder declarations according to project conventions
		reordered, err := reorder.Source(string(content))
		if err != nil {
			w.logger.Warn("failed to reorder generated file", "path", output.Path, "error", err)
		} else {
			content = []byte(reordered)
		}
	}

	previous, err := w.fileSys.ReadFile(output.Path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error reading %s: %w", output.Path, err)
	}

	if err == nil && bytes.Equal(previous, content) {
		w.logger.Debug("unchanged", "path", output.Path)
		return nil
	}

	if w.dryRun {
		_, _ = fmt.Fprint(w.out, textdiff.Unified(output.Path+" (current)", output.Path+" (generated)",
			string(previous), string(content)))

		return nil
	}

	err = w.fileSys.WriteFile(output.Path, content, perm)
	if err != nil {
		return fmt.Errorf("error writing %s: %w", output.Path, err)
	}

	_, _ = fmt.Fprintf(w.out, "%s written successfully.\n", output.Path)

	return nil
}

// Stale lists the generated files present in pkgs that no output replaces.
func Stale(pkgs []*load.Package, outputs []generate.Output) []string {
	produced := make(map[string]bool, len(outputs))
	for _, output := range outputs {
		produced[output.Path] = true
	}

	var stale []string

	for _, pkg := range pkgs {
		for _, path := range pkg.Generated {
			if !produced[path] {
				stale = append(stale, path)
			}
		}
	}

	return stale
}
