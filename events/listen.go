package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type poolAcquirer interface {
	Acquire(ctx context.Context) (*pgxpool.Conn, error)
}

var _ poolAcquirer = (*pgxpool.Pool)(nil)

// Listen holds a dedicated connection LISTENing on the purr_events channel
// and signals the returned channel on every NOTIFY. The channel is closed
// when ctx ends or the connection fails; the connection is released then.
func (es *Store) Listen(ctx context.Context) (<-chan struct{}, error) {
	if es.pool == nil {
		return nil, errors.New("events: listen: backend has no connection pool")
	}

	conn, err := es.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("events: listen: acquire conn: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("events: listen: %w", err)
	}

	wake := make(chan struct{}, 1)
	go func() {
		defer close(wake)
		// the session still has LISTEN active, so never hand it back to the pool
		defer func() { _ = conn.Hijack().Close(context.Background()) }()

		for {
			if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
				return
			}
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}()

	return wake, nil
}
