package storage

import (
	"io/fs"
	"os"
	"path/filepath"
)

// Usage is the on-disk footprint of the vector store and the interaction log.
type Usage struct {
	StoreBytes        int64 `json:"store_bytes"`
	InteractionsBytes int64 `json:"interactions_bytes"`
}

// Total returns the combined size.
func (u Usage) Total() int64 {
	return u.StoreBytes + u.InteractionsBytes
}

// MeasureUsage sizes the store directory and the SQLite database, including its -wal and
// -shm files. Paths that do not exist count as zero.
func MeasureUsage(storeDir, dbPath string) (Usage, error) {
	var u Usage
	var err error
	if u.StoreBytes, err = sizeOf(storeDir); err != nil {
		return Usage{}, err
	}
	if dbPath != "" {
		u.InteractionsBytes, err = sizeOf(dbPath, dbPath+"-wal", dbPath+"-shm")
		if err != nil {
			return Usage{}, err
		}
	}
	return u, nil
}

func sizeOf(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		err := filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return 0, err
		}
	}
	return total, nil
}
