package control

import "os"

// FS abstracts the filesystem operations on the artifact cache directory.
type FS interface {
	// Remove deletes a single file. Missing files report os.ErrNotExist.
	Remove(name string) error
	Stat(name string) (os.FileInfo, error)
	ReadDir(name string) ([]os.DirEntry, error)
	MkdirAll(path string, perm os.FileMode) error
}

// RealFS uses actual os operations.
type RealFS struct{}

func (RealFS) Remove(name string) error {
	return os.Remove(name)
}

func (RealFS) Stat(name string) (os.FileInfo, error) {
	return os.Stat(name)
}

func (RealFS) ReadDir(name string) ([]os.DirEntry, error) {
	return os.ReadDir(name)
}

func (RealFS) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}
