package storage

import (
	"context"
	"fmt"
	"strings"

	"templatebot/pkg/logx"
)

// Store is the template persistence API used by the conversation engine
// (reads and writes) and by delivery (reads at fire time).
//
// Update applies the whole patch atomically: a concurrent reader sees either
// the old or the new record, never a mix.
type Store interface {
	Create(ctx context.Context, n NewTemplate) (Template, error)
	GetByID(ctx context.Context, id int64) (Template, error)
	GetByName(ctx context.Context, name string) (Template, error)
	Update(ctx context.Context, id int64, p Patch) (Template, error)
	// Delete removes the record and returns it, so callers can release
	// resources it referenced.
	Delete(ctx context.Context, id int64) (Template, error)
	List(ctx context.Context) ([]Template, error)
	Close() error
}

func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql":
		return openPostgres(cfg, log)
	case "file":
		return openFile(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
