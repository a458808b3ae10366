// Package filesys provides a small collection of filesystem helpers used by
// the namespace manager. All operations go through an afero.Fs so that tests
// can run against an in-memory filesystem.
package filesys

import (
	"errors"
	"os"
	"sort"

	"github.com/spf13/afero"
)

var (
	ErrIsNotDir = errors.New("path isn't a directory")
)

// CreateDir creates a directory at the specified path with the given permissions.
//
// If the directory already exists:
//   - If 'force' is true, it proceeds without error.
//   - If 'force' is false, it returns an error.
//
// It also returns an error if the existing path is a file (not a directory).
func CreateDir(fs afero.Fs, dirPath string, permission os.FileMode, force bool) error {
	stat, err := fs.Stat(dirPath)
	if err == nil {
		if !stat.IsDir() {
			return ErrIsNotDir
		}
		if !force {
			return os.ErrExist
		}
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return fs.MkdirAll(dirPath, permission)
}

// DeleteDir deletes a directory and all its contents recursively.
func DeleteDir(fs afero.Fs, path string) error {
	return fs.RemoveAll(path)
}

// Exists checks if a file or directory at the given path exists.
// It returns true if the path exists, false if it does not,
// and an error if there's any other issue checking its status.
func Exists(fs afero.Fs, path string) (bool, error) {
	_, err := fs.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// IsDir reports whether the path exists and is a directory.
func IsDir(fs afero.Fs, path string) (bool, error) {
	stat, err := fs.Stat(path)
	if err == nil {
		return stat.IsDir(), nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// ReadDirNames returns the sorted names of all entries in the directory.
func ReadDirNames(fs afero.Fs, dirPath string) ([]string, error) {
	infos, err := afero.ReadDir(fs, dirPath)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	sort.Strings(names)

	return names, nil
}

// ReadSubdirNames returns the sorted names of all subdirectories in the directory.
func ReadSubdirNames(fs afero.Fs, dirPath string) ([]string, error) {
	infos, err := afero.ReadDir(fs, dirPath)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() {
			names = append(names, info.Name())
		}
	}
	sort.Strings(names)

	return names, nil
}
