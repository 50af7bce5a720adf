package storage

import (
	"fmt"
	"strings"

	logx "recrawler/pkg/logx"
)

// Open initializes the configured index driver.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "index"), logx.String("driver", driver))

	switch driver {
	case "":
		return nil, ErrNoDriver
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
}
