package infra

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"mediaqueue/internal/sqlinline"
)

// Listener holds one pooled connection in LISTEN mode on the jobs_available
// channel and turns notifications into non-blocking wake-ups for idle
// workers. The jobs trigger sends the job type as payload. Polling remains
// the source of truth; a missed notification only delays a claim until the
// next tick.
type Listener struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
	wake   chan string
}

func NewListener(pool *pgxpool.Pool, logger zerolog.Logger) *Listener {
	return &Listener{
		pool:   pool,
		logger: logger.With().Str("component", "listener").Logger(),
		wake:   make(chan string, 1),
	}
}

// Wake delivers the job type of the latest notification. Bursts collapse into
// a single pending wake-up.
func (l *Listener) Wake() <-chan string {
	return l.wake
}

// Run listens until ctx is cancelled, reconnecting with a capped backoff.
func (l *Listener) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("listener: connection lost")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	run := &SQLRunner{Logger: l.logger, q: conn}
	if _, err := run.Exec(ctx, sqlinline.QListenJobsAvailable); err != nil {
		return err
	}
	l.logger.Info().Msg("listener: listening")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			// Never hand a connection in LISTEN state back to the pool.
			_ = conn.Conn().Close(context.Background())
			return err
		}
		select {
		case l.wake <- n.Payload:
		default:
		}
	}
}
