package storage

import (
	"fmt"
	"strings"

	logx "ghwatch/pkg/logx"
)

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("driver", driver))

	var (
		st  Store
		err error
	)
	switch driver {
	case "file":
		st, err = openFile(cfg, log)
	case "sqlite", "sqlite3":
		st, err = openSQLite(cfg, log)
	case "redis":
		st, err = openRedis(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", driver, err)
	}
	log.Info("storage opened")
	return st, nil
}
