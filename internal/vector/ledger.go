package vector

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ledgerRecord is the on-disk form of one metadata record.
type ledgerRecord struct {
	Path  string `json:"path"`
	Index int    `json:"index"`
}

// Ledger is the append-only slot -> source path mapping kept alongside stored vectors.
// It is not safe for concurrent use; stores guard it with their own lock.
type Ledger struct {
	paths []string
	seen  map[string]struct{}
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{seen: make(map[string]struct{})}
}

// Append records path at slot. Slots are dense: slot must equal Len().
func (l *Ledger) Append(slot int, path string) error {
	if slot != len(l.paths) {
		return fmt.Errorf("%w: slot %d out of sequence, next slot is %d", ErrInvalidInput, slot, len(l.paths))
	}
	l.paths = append(l.paths, path)
	l.seen[path] = struct{}{}
	return nil
}

// Get returns the path recorded at slot.
func (l *Ledger) Get(slot int) (string, error) {
	if slot < 0 || slot >= len(l.paths) {
		return "", fmt.Errorf("%w: slot %d", ErrNotFound, slot)
	}
	return l.paths[slot], nil
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	return len(l.paths)
}

// Has reports whether any slot records path.
func (l *Ledger) Has(path string) bool {
	_, ok := l.seen[path]
	return ok
}

// Paths returns a copy of all paths in slot order.
func (l *Ledger) Paths() []string {
	return append([]string(nil), l.paths...)
}

// Clone returns an independent copy of the ledger.
func (l *Ledger) Clone() *Ledger {
	c := &Ledger{
		paths: append([]string(nil), l.paths...),
		seen:  make(map[string]struct{}, len(l.seen)),
	}
	for p := range l.seen {
		c.seen[p] = struct{}{}
	}
	return c
}

// MarshalJSON encodes the ledger as {"0": {"path": ..., "index": 0}, ...} in slot order.
func (l *Ledger) MarshalJSON() ([]byte, error) {
	om := orderedmap.New[string, ledgerRecord]()
	for i, p := range l.paths {
		om.Set(strconv.Itoa(i), ledgerRecord{Path: p, Index: i})
	}
	return json.Marshal(om)
}

// UnmarshalJSON decodes the slot-keyed form. Keys may appear in any order but must
// cover slots 0..n-1 exactly and agree with each record's index.
func (l *Ledger) UnmarshalJSON(data []byte) error {
	om := orderedmap.New[string, ledgerRecord]()
	if err := json.Unmarshal(data, om); err != nil {
		return corruptf("decode ledger: %v", err)
	}
	paths := make([]string, om.Len())
	filled := make([]bool, om.Len())
	for pair := om.Oldest(); pair != nil; pair = pair.Next() {
		slot, err := strconv.Atoi(pair.Key)
		if err != nil {
			return corruptf("ledger key %q is not a slot number", pair.Key)
		}
		if slot < 0 || slot >= len(paths) {
			return corruptf("ledger slot %d outside 0..%d", slot, len(paths)-1)
		}
		if pair.Value.Index != slot {
			return corruptf("ledger slot %d records index %d", slot, pair.Value.Index)
		}
		paths[slot] = pair.Value.Path
		filled[slot] = true
	}
	for slot, ok := range filled {
		if !ok {
			return corruptf("ledger slot %d missing", slot)
		}
	}
	l.paths = paths
	l.seen = make(map[string]struct{}, len(paths))
	for _, p := range paths {
		l.seen[p] = struct{}{}
	}
	return nil
}

// Save rewrites the ledger file at path in full.
func (l *Ledger) Save(path string) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	return writeFileAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// LoadLedger reads a ledger file. A missing file yields an empty ledger;
// an unreadable or malformed one fails with ErrCorruptState.
func LoadLedger(path string) (*Ledger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewLedger(), nil
		}
		return nil, corruptf("read ledger %s: %v", path, err)
	}
	l := NewLedger()
	if err := json.Unmarshal(data, l); err != nil {
		if errors.Is(err, ErrCorruptState) {
			return nil, err
		}
		return nil, corruptf("decode ledger %s: %v", path, err)
	}
	return l, nil
}
