package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/gomega"
)

func TestRealFileSystem_RoundTrip(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	path := filepath.Join(t.TempDir(), "app_covers.go")
	fileSys := &realFileSystem{}

	g.Expect(fileSys.WriteFile(path, []byte("package app\n"), 0o600)).To(Succeed())

	data, err := fileSys.ReadFile(path)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(data)).To(Equal("package app\n"))

	info, err := os.Stat(path)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o600)))

	g.Expect(fileSys.Remove(path)).To(Succeed())

	_, err = fileSys.ReadFile(path)
	g.Expect(errors.Is(err, fs.ErrNotExist)).To(BeTrue())
}

func TestRealFileSystem_RemoveMissingFileKeepsNotExist(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	err := (&realFileSystem{}).Remove(filepath.Join(t.TempDir(), "missing_covers.go"))

	g.Expect(errors.Is(err, fs.ErrNotExist)).To(BeTrue())
}
