//go:build !sqlite_cgo

package storage

// Compiled by default. Uses a pure Go SQLite implementation that ships
// with FTS5 enabled, so no C toolchain is needed.
//
// Driver used: modernc.org/sqlite

import (
	"fmt"
	"net/url"

	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)

// buildDSN applies per-connection pragmas through modernc's _pragma parameters
func buildDSN(path string, busyTimeoutMS int) string {
	if path == memoryPath {
		return path
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMS))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}
