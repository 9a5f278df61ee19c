//go:build !cgo_sqlite

package main

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

const sqliteDriver = "sqlite"

// sqliteDSN enables WAL and a busy timeout using modernc's _pragma parameters.
func sqliteDSN(path string) string {
	return "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

func openDB(path string) (*sql.DB, error) {
	return sql.Open(sqliteDriver, sqliteDSN(path))
}
