package facilitator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Cursor records the last block the watcher has dispatched.
type Cursor struct {
	Account           string `json:"account"`
	LastObservedBlock uint64 `json:"last_observed_block"`
	UpdatedAt         string `json:"updated_at"`
}

// CursorStore persists the watcher cursor to disk. An empty path disables it.
type CursorStore struct {
	path string
}

func NewCursorStore(path string) *CursorStore {
	return &CursorStore{path: path}
}

// Load returns the stored cursor for account. A cursor written for another account is ignored.
func (c *CursorStore) Load(account string) (Cursor, bool, error) {
	if c == nil || c.path == "" {
		return Cursor{}, false, nil
	}

	stat, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Cursor{}, false, nil
		}
		return Cursor{}, false, fmt.Errorf("stat cursor: %w", err)
	}
	if stat.IsDir() {
		return Cursor{}, false, fmt.Errorf("cursor path is a directory")
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return Cursor{}, false, fmt.Errorf("read cursor: %w", err)
	}

	var cursor Cursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return Cursor{}, false, fmt.Errorf("parse cursor: %w", err)
	}
	if !sameAccount(cursor.Account, account) {
		return Cursor{}, false, nil
	}

	return cursor, true, nil
}

// Save writes the cursor atomically.
func (c *CursorStore) Save(account string, lastObserved uint64) error {
	if c == nil || c.path == "" {
		return nil
	}

	dir := filepath.Dir(c.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cursor dir: %w", err)
		}
	}

	cursor := Cursor{
		Account:           account,
		LastObservedBlock: lastObserved,
		UpdatedAt:         time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write cursor tmp: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("rename cursor: %w", err)
	}

	return nil
}
