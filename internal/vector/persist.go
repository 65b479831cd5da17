package vector

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
)

// writeFileAtomic writes a file through a temp file in the same directory and renames it
// over path, so readers never observe a half-written file.
func writeFileAtomic(path string, write func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return ioFailure("create store dir", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return ioFailure("create temp file", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	bw := bufio.NewWriter(tmp)
	if err := write(bw); err != nil {
		return ioFailure("write "+filepath.Base(path), err)
	}
	if err := bw.Flush(); err != nil {
		return ioFailure("flush "+filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		return ioFailure("sync "+filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return ioFailure("close "+filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return ioFailure("replace "+filepath.Base(path), err)
	}
	return nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
