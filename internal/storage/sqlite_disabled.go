//go:build !sqlite
// +build !sqlite

package storage

import (
	"errors"

	logx "chimebot/pkg/logx"
)

// Stub for builds without the sqlite tag. The real implementation lives in
// sqlite.go and pulls in the modernc.org/sqlite driver.
func openSQLite(_ Config, _ logx.Logger) (Store, error) {
	return nil, errors.New("storage: sqlite driver not compiled in, rebuild with -tags sqlite")
}
