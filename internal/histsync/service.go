package histsync

import (
	"context"
	"sync"
	"time"

	"histsync/internal/database"
	"histsync/internal/model"
)

// Options configures a Service. Zero values select the defaults.
type Options struct {
	Logger         Logger
	Clock          Clock
	IDs            IDGenerator
	PageSize       int
	PollInterval   time.Duration
	ConflictPolicy *ConflictPolicy
}

// Service ties the store and the remote API together. It is the entry point
// for views: live content sessions, the history list and the CRUD
// operations.
type Service struct {
	store     *database.Store
	remote    Remote
	log       Logger
	clock     Clock
	ids       IDGenerator
	pageSize  int
	interval  time.Duration
	cache     *EntityCache
	details   *DetailCache
	histories *HistorySync

	mu       sync.Mutex
	sessions map[*ContentSession]struct{}
	closed   bool
}

func NewService(store *database.Store, remote Remote, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = NewNopLogger()
	}
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	if opts.IDs == nil {
		opts.IDs = UUIDGenerator{}
	}
	if opts.PageSize <= 0 {
		opts.PageSize = PageSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	entities := NewEntityCache(store, opts.Logger, opts.Clock)
	if opts.ConflictPolicy != nil {
		entities = entities.WithConflictPolicy(*opts.ConflictPolicy)
	}
	return &Service{
		store:     store,
		remote:    remote,
		log:       opts.Logger,
		clock:     opts.Clock,
		ids:       opts.IDs,
		pageSize:  opts.PageSize,
		interval:  opts.PollInterval,
		cache:     entities,
		details:   NewDetailCache(entities, remote, opts.Logger),
		histories: NewHistorySync(entities, remote, opts.Logger),
		sessions:  make(map[*ContentSession]struct{}),
	}
}

func (s *Service) Cache() *EntityCache     { return s.cache }
func (s *Service) Details() *DetailCache   { return s.details }
func (s *Service) Histories() *HistorySync { return s.histories }
func (s *Service) Store() *database.Store  { return s.store }

// Poller returns a poll loop using the service's interval.
func (s *Service) Poller() *Poller {
	return NewPoller(s.remote, s.cache, s.log, s.clock, s.interval)
}

// Close ends every open content session and the history pipeline, then
// waits for their background work. It does not close the store.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*ContentSession, 0, len(s.sessions))
	for cs := range s.sessions {
		sessions = append(sessions, cs)
	}
	s.mu.Unlock()

	for _, cs := range sessions {
		cs.Close()
		cs.Wait()
	}
	s.histories.Close()
}

// LoadContent runs one manual load for params and returns its counters.
// Each call uses a fresh loader so no request is deduplicated.
func (s *Service) LoadContent(ctx context.Context, params SearchParams) (LoadResult, error) {
	return NewManualLoader(s.remote, s.cache, s.log, s.pageSize).Load(ctx, params, nil)
}

// FindContent returns the cached content matching params.
func (s *Service) FindContent(ctx context.Context, params SearchParams) ([]*model.Content, error) {
	q, err := BuildLocalContentQuery(params)
	if err != nil {
		return nil, err
	}
	return s.store.Contents.Find(ctx, q)
}

// LoaderOptions tunes a content session.
type LoaderOptions struct {
	SuppressPolling    bool
	SuppressManualLoad bool
	Interval           time.Duration // poll interval; the service's when zero
}

// ContentSession is a live view of a history's content. It combines the
// live query with a manual loader for the requested window and a poll loop
// for the history. Load and poll failures are logged; they never end the
// view.
type ContentSession struct {
	id     string
	svc    *Service
	opts   LoaderOptions
	fn     func([]*model.Content)
	loader *ManualLoader
	stop   *StopSignal
	ctx    context.Context

	mu       sync.Mutex
	params   SearchParams
	sub      *database.Subscription
	pollStop *StopSignal
	closed   bool
	wg       sync.WaitGroup
}

// OpenContent starts a session for params. fn receives the matching content
// right away and after every change.
func (s *Service) OpenContent(ctx context.Context, params SearchParams, fn func([]*model.Content), opts LoaderOptions) (*ContentSession, error) {
	if _, err := BuildLocalContentQuery(params); err != nil {
		return nil, err
	}
	if opts.Interval <= 0 {
		opts.Interval = s.interval
	}

	cs := &ContentSession{
		id:     s.ids.New(),
		svc:    s,
		opts:   opts,
		fn:     fn,
		loader: NewManualLoader(s.remote, s.cache, s.log, s.pageSize),
		stop:   NewStopSignal(),
		ctx:    ctx,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, database.ErrClosed
	}
	s.sessions[cs] = struct{}{}
	s.mu.Unlock()

	if err := cs.Update(params); err != nil {
		cs.Close()
		return nil, err
	}
	return cs, nil
}

// ID identifies the session in log output.
func (cs *ContentSession) ID() string { return cs.id }

// Params returns the parameters of the current view.
func (cs *ContentSession) Params() SearchParams {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.params
}

// Update switches the view to params. The new live query replaces the old
// one, the manual loader fills the new window and the poll loop follows
// the history when it changed.
func (cs *ContentSession) Update(params SearchParams) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.closed {
		return database.ErrClosed
	}

	sub, err := WatchContent(cs.svc.store, params, cs.fn)
	if err != nil {
		return err
	}
	if cs.sub != nil {
		cs.sub.Unsubscribe()
	}
	cs.sub = sub

	historyChanged := cs.params.HistoryID != params.HistoryID
	cs.params = params

	if !cs.opts.SuppressManualLoad {
		cs.wg.Add(1)
		go func() {
			defer cs.wg.Done()
			cs.load(params)
		}()
	}
	if !cs.opts.SuppressPolling && historyChanged {
		cs.pollStop.Stop()
		cs.pollStop = NewStopSignal()
		cs.wg.Add(1)
		go func(stop *StopSignal) {
			defer cs.wg.Done()
			cs.poll(params.HistoryID, stop)
		}(cs.pollStop)
	}
	return nil
}

// Close stops the view. Requests already in flight finish and are cached;
// use Wait to block until they have.
func (cs *ContentSession) Close() {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return
	}
	cs.closed = true
	cs.stop.Stop()
	cs.pollStop.Stop()
	if cs.sub != nil {
		cs.sub.Unsubscribe()
	}
	cs.mu.Unlock()

	cs.svc.mu.Lock()
	delete(cs.svc.sessions, cs)
	cs.svc.mu.Unlock()
}

// Wait blocks until the session's background work has finished.
func (cs *ContentSession) Wait() {
	cs.wg.Wait()
}

func (cs *ContentSession) load(params SearchParams) {
	res, err := cs.loader.Load(cs.ctx, params, cs.stop)
	if err != nil {
		if cs.ctx.Err() == nil {
			cs.svc.log.Warn("manual load failed", "session", cs.id, "params", params.String(), "error", err)
		}
		return
	}
	cs.svc.log.Debug("manual load done", "session", cs.id, "params", params.String(), "requests", res.Requests, "skipped", res.Skipped, "cached", res.Cached)
}

func (cs *ContentSession) poll(historyID string, stop *StopSignal) {
	p := NewPoller(cs.svc.remote, cs.svc.cache, cs.svc.log, cs.svc.clock, cs.opts.Interval)
	if err := p.Run(cs.ctx, historyID, stop); err != nil && cs.ctx.Err() == nil {
		cs.svc.log.Warn("poll loop ended", "session", cs.id, "history_id", historyID, "error", err)
	}
}
