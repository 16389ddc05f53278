package db

import (
	"context"

	"github.com/jmoiron/sqlx"
)

type TxFn func(ctx context.Context, tx *sqlx.Tx) error

type job struct {
	ctx context.Context
	fn  TxFn
	ch  chan error
}

// Worker runs transactions one at a time on a single goroutine.  Every
// access event is handled as one job, so an event never observes another
// event's uncommitted audit rows.
type Worker struct {
	db   *sqlx.DB
	jobs chan job
	done chan struct{}
}

func NewWorker(db *sqlx.DB) *Worker {
	w := &Worker{
		db:   db,
		jobs: make(chan job, 256),
		done: make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) Close() {
	close(w.jobs)
	<-w.done
}

func (w *Worker) Do(ctx context.Context, fn TxFn) error {
	ch := make(chan error, 1)
	j := job{ctx: ctx, fn: fn, ch: ch}

	// A full queue waits only as long as the caller's deadline.
	select {
	case w.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	}

	return await(ctx, ch)
}

// await waits for the job result.  The transaction is bound to ctx as well,
// so a caller that gives up here leaves a rolled-back transaction behind,
// not a late commit.  A result that is already available wins over an
// expired ctx: the commit happened and must be reported.
func await(ctx context.Context, ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		select {
		case err := <-ch:
			return err
		default:
			return ctx.Err()
		}
	}
}

func (w *Worker) loop() {
	defer close(w.done)

	for j := range w.jobs {
		if err := j.ctx.Err(); err != nil {
			j.ch <- err
			continue
		}

		tx, err := w.db.BeginTxx(j.ctx, nil)
		if err != nil {
			j.ch <- err
			continue
		}

		if err := j.fn(j.ctx, tx); err != nil {
			_ = tx.Rollback()
			j.ch <- err
			continue
		}

		j.ch <- tx.Commit()
	}
}
