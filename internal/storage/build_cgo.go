//go:build sqlite_cgo

package storage

// Compiled with the sqlite_cgo tag. FTS5 additionally needs the fts5 tag:
//
//	CGO_ENABLED=1 go build -tags "sqlite_cgo,fts5" ./...
//
// Driver used: github.com/mattn/go-sqlite3

import (
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)

// buildDSN applies per-connection pragmas through mattn's query parameters
func buildDSN(path string, busyTimeoutMS int) string {
	if path == memoryPath {
		return path
	}
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_busy_timeout", fmt.Sprint(busyTimeoutMS))
	return "file:" + path + "?" + q.Encode()
}
