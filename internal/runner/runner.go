// Package runner processes simulation and load requests one at a time and
// holds the current results snapshot.
//
// Requests execute in submission order on a single runner goroutine. A new
// submission supersedes every earlier request that has not finished: the
// in-flight one is cancelled and queued ones are skipped. Only a request that
// completes publishes its summary, so readers of Current always see a whole
// run, either the latest completed one or, before that, nothing. A run
// submitted with Save is written to the store only when it is published.
// Every request produces exactly one Event while the runner is open.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"fairsim/internal/engine"
	"fairsim/internal/evaluator"
	"fairsim/internal/logger"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("runner closed")

// Evaluator is the part of evaluator.Service the runner drives.
type Evaluator interface {
	RunModelSimulation(ctx context.Context, name string, iterations int) (*engine.Results, error)
	SummarizeModelSimulation(res *engine.Results) (*evaluator.Summary, error)
	LoadSimulationModel(name string) (*evaluator.Summary, error)
	SaveResults(name string, sum *evaluator.Summary) error
}

type Kind string

const (
	KindRun  Kind = "run"
	KindLoad Kind = "load"
)

// Request is a RunSimulationRequest or a LoadResultsRequest.
type Request interface {
	Kind() Kind
	ModelName() string
}

// RunSimulationRequest simulates a model, optionally saving the results.
type RunSimulationRequest struct {
	Model      string
	Iterations int
	Save       bool
}

func (RunSimulationRequest) Kind() Kind { return KindRun }
func (r RunSimulationRequest) ModelName() string { return r.Model }

// LoadResultsRequest publishes a model's saved results.
type LoadResultsRequest struct {
	Model string
}

func (LoadResultsRequest) Kind() Kind { return KindLoad }
func (r LoadResultsRequest) ModelName() string { return r.Model }

// Event reports how a request ended.
type Event struct {
	RequestID string `json:"request_id"`
	Kind      Kind   `json:"kind"`
	Model     string `json:"model"`
	// RunID is set when the request published a snapshot.
	RunID string `json:"run_id,omitempty"`
	Err   error  `json:"-"`
	// Superseded is set when a later submission cancelled or skipped the
	// request. Err is context.Canceled in that case.
	Superseded bool `json:"superseded"`
}

type job struct {
	id         string
	req        Request
	ctx        context.Context
	cancel     context.CancelFunc
	superseded bool
}

// Runner owns the request queue and the published snapshot.
type Runner struct {
	eval Evaluator
	log  *logger.Logger

	current atomic.Pointer[evaluator.Summary]

	mu     sync.Mutex
	queue  []*job
	active *job
	closed bool
	wake   chan struct{}

	subMu  sync.Mutex
	subs   map[int]*subscriber
	nextID int

	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
	baseCtx   context.Context
	cancelAll context.CancelFunc
}

// New starts a runner.
func New(eval Evaluator, log *logger.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		eval:      eval,
		log:       logger.OrNop(log),
		wake:      make(chan struct{}, 1),
		subs:      make(map[int]*subscriber),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		baseCtx:   ctx,
		cancelAll: cancel,
	}
	go r.loop()
	return r
}

// Current returns the latest published summary, or nil before any request
// has completed.
func (r *Runner) Current() *evaluator.Summary {
	return r.current.Load()
}

// Submit queues req and returns its request id. Every earlier request still
// queued or running is superseded.
func (r *Runner) Submit(req Request) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrClosed
	}
	for _, j := range r.queue {
		j.superseded = true
		j.cancel()
	}
	if r.active != nil {
		r.active.superseded = true
		r.active.cancel()
	}

	ctx, cancel := context.WithCancel(r.baseCtx)
	j := &job{id: uuid.NewString(), req: req, ctx: ctx, cancel: cancel}
	r.queue = append(r.queue, j)
	select {
	case r.wake <- struct{}{}:
	default:
	}
	r.log.Debug("request submitted", "request_id", j.id, "kind", req.Kind(), "model", req.ModelName())
	return j.id, nil
}

type subscriber struct {
	ch   chan Event
	gone chan struct{}
}

// Subscribe returns a channel receiving every subsequent Event, and a
// function that ends the subscription. The channel is closed by the
// unsubscribe function or by Close. A subscriber that stops reading without
// unsubscribing stalls the runner once its buffer fills.
func (r *Runner) Subscribe() (<-chan Event, func()) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	sub := &subscriber{ch: make(chan Event, 16), gone: make(chan struct{})}
	id := r.nextID
	r.nextID++
	r.subs[id] = sub
	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			close(sub.gone)
			r.subMu.Lock()
			defer r.subMu.Unlock()
			if _, ok := r.subs[id]; ok {
				delete(r.subs, id)
				close(sub.ch)
			}
		})
	}
}

// Close cancels outstanding requests, stops the runner goroutine and closes
// every subscriber channel. Requests still queued get no Event.
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.stopOnce.Do(func() { close(r.stop) })
	r.cancelAll()
	<-r.done

	r.subMu.Lock()
	defer r.subMu.Unlock()
	for id, sub := range r.subs {
		delete(r.subs, id)
		close(sub.ch)
	}
}

func (r *Runner) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			return
		case <-r.wake:
		}
		for {
			j := r.next()
			if j == nil {
				break
			}
			ev := r.execute(j)
			select {
			case <-r.stop:
				return
			default:
			}
			r.emit(ev)
		}
	}
}

// next pops the oldest queued job and marks it active.
func (r *Runner) next() *job {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return nil
	}
	j := r.queue[0]
	r.queue = r.queue[1:]
	r.active = j
	return j
}

func (r *Runner) execute(j *job) Event {
	defer j.cancel()
	ev := Event{RequestID: j.id, Kind: j.req.Kind(), Model: j.req.ModelName()}
	log := r.log.With("request_id", j.id, "kind", ev.Kind, "model", ev.Model)

	var (
		sum *evaluator.Summary
		err = j.ctx.Err()
	)
	if err == nil {
		sum, err = r.perform(j)
	}

	// Saving happens under mu so a run is on disk only if it is also
	// published: Submit cannot supersede it between the two.
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = nil
	if err == nil && j.ctx.Err() != nil {
		// Finished, but a newer request arrived first.
		err = j.ctx.Err()
	}
	if err == nil {
		err = r.save(j, sum)
	}
	switch {
	case err == nil:
		r.current.Store(sum)
		ev.RunID = sum.RunID
		log.Info("snapshot published", "run_id", sum.RunID)
	case j.superseded:
		ev.Superseded = true
		ev.Err = context.Canceled
		log.Info("request superseded")
	default:
		ev.Err = err
		log.Warn("request failed", "error", err)
	}
	return ev
}

func (r *Runner) perform(j *job) (*evaluator.Summary, error) {
	switch req := j.req.(type) {
	case RunSimulationRequest:
		res, err := r.eval.RunModelSimulation(j.ctx, req.Model, req.Iterations)
		if err != nil {
			return nil, err
		}
		return r.eval.SummarizeModelSimulation(res)
	case LoadResultsRequest:
		return r.eval.LoadSimulationModel(req.Model)
	default:
		return nil, errors.New("unknown request type")
	}
}

// save persists a finished run that asked for it. Callers hold r.mu.
func (r *Runner) save(j *job, sum *evaluator.Summary) error {
	req, ok := j.req.(RunSimulationRequest)
	if !ok || !req.Save {
		return nil
	}
	if err := r.eval.SaveResults(req.Model, sum); err != nil {
		return fmt.Errorf("save results: %w", err)
	}
	return nil
}

func (r *Runner) emit(ev Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, sub := range r.subs {
		select {
		case sub.ch <- ev:
		case <-sub.gone:
		case <-r.stop:
			return
		}
	}
}
