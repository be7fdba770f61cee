//go:build !sqlite
// +build !sqlite

package state

import (
	"fmt"

	logx "dailycast/pkg/logx"
)

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	_ = cfg
	_ = log
	return nil, fmt.Errorf("%w: sqlite driver requires building with -tags sqlite", ErrDisabled)
}
