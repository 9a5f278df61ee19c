//go:build cgo_sqlite

package main

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteDriver = "sqlite3"

// sqliteDSN enables WAL and a busy timeout using go-sqlite3's query parameters.
func sqliteDSN(path string) string {
	return "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
}

func openDB(path string) (*sql.DB, error) {
	return sql.Open(sqliteDriver, sqliteDSN(path))
}
