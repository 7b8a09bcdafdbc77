package approval

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"

	_ "github.com/mattn/go-sqlite3"
)

const defaultBusyTimeoutMS = 5000

// OpenDB opens the SQLite-backed approval store as a writer/reader split: a
// single-connection writer pool so SQLite itself serializes writes, plus a
// small reader pool for concurrent GETs against the same WAL-mode database.
func OpenDB(dbPath string) (writer *sqlx.DB, reader *sqlx.DB, err error) {
	path, err := expandHome(dbPath)
	if err != nil {
		return nil, nil, err
	}
	if err := ensureDir(path); err != nil {
		return nil, nil, fmt.Errorf("failed to prepare approvals db directory: %w", err)
	}

	writerDSN := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_mode=rwc&_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		path, defaultBusyTimeoutMS,
	)
	writer, err = sqlx.Connect("sqlite3", writerDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open approvals db: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)

	readerDSN := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_mode=ro&_busy_timeout=%d&_cache=shared",
		path, defaultBusyTimeoutMS,
	)
	reader, err = sqlx.Connect("sqlite3", readerDSN)
	if err != nil {
		_ = writer.Close()
		return nil, nil, fmt.Errorf("failed to open approvals db reader pool: %w", err)
	}
	reader.SetMaxOpenConns(4)
	reader.SetMaxIdleConns(4)

	return writer, reader, nil
}

func ensureDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func expandHome(path string) (string, error) {
	if len(path) < 2 || path[:2] != "~/" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[2:]), nil
}
