// Package worker provides a small fixed-size goroutine pool supervised by
// a tomb.Tomb, adapted from the teacher's internal/worker.go (there, used
// to run per-connection TCP handlers; here, used by the broadcast loop to
// fan out a tick's delta to subscribers without one blocked subscriber
// write stalling the others or the tick loop itself).
package worker

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const taskChanSize = 100

// Function is one unit of work a pool worker executes.
type Function = func(t *tomb.Tomb, task any) error

// Pool is a fixed-size set of goroutines draining a shared task channel.
type Pool struct {
	n     int
	tasks chan any
	work  Function
}

// New builds a pool with size workers.
func New(size int) Pool {
	return Pool{
		tasks: make(chan any, taskChanSize),
		n:     size,
	}
}

// AddTask enqueues one unit of work for the pool to pick up.
func (p *Pool) AddTask(task any) {
	p.tasks <- task
}

// Setup starts and maintains a full pool of workers, restarting any that
// exit, until t is dying.
func (p *Pool) Setup(t *tomb.Tomb, work Function) {
	p.work = work
	log.Info().Int("workers", p.n).Msg("starting fan-out pool")
	active := 0
	for {
		select {
		case <-t.Dying():
			return
		default:
			if active < p.n {
				t.Go(func() error {
					err := p.worker(t)
					active--
					return err
				})
				active++
			}
		}
	}
}

func (p *Pool) worker(t *tomb.Tomb) error {
	select {
	case <-t.Dying():
		return nil
	case task := <-p.tasks:
		if err := p.work(t, task); err != nil {
			log.Error().Err(err).Msg("fan-out worker exiting")
			return err
		}
	}
	return nil
}
