//go:build !sqlite
// +build !sqlite

package storage

import (
	"errors"

	logx "pushbridge/pkg/logx"
)

// Built without the sqlite tag: fail fast with a clear hint.
func openSQLite(_ Config, _ logx.Logger) (Store, error) {
	return nil, errors.New("sqlite driver not compiled in (build with -tags sqlite, or use driver \"file\")")
}
