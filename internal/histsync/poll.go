package histsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"histsync/internal/model"
)

// DefaultPollInterval is the wait between the end of one cycle and the
// start of the next.
const DefaultPollInterval = 5 * time.Second

// Poller detects server-side changes to one history and its content.
//
// Each poll context keeps its own marker in the store's request time table.
// A marker is the time the last successful request was sent, so changes
// made while a request was in flight are fetched again on the next cycle.
type Poller struct {
	remote   Remote
	cache    *EntityCache
	log      Logger
	clock    Clock
	interval time.Duration
}

func NewPoller(remote Remote, entities *EntityCache, log Logger, clock Clock, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		remote:   remote,
		cache:    entities,
		log:      log,
		clock:    clock,
		interval: interval,
	}
}

// Run polls historyID until stop fires or ctx is done. A failed cycle is
// logged and the loop carries on. Stop is honored before each cycle and
// while waiting; a cycle that has started runs to completion.
func (p *Poller) Run(ctx context.Context, historyID string, stop *StopSignal) error {
	if historyID == "" {
		return &MissingParameterError{Param: "historyId"}
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		if stop.Stopped() {
			return nil
		}
		if err := p.Cycle(ctx, historyID); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Warn("poll cycle failed", "history_id", historyID, "error", err)
		}

		timer.Reset(p.interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop.Done():
			return nil
		case <-timer.C:
		}
	}
}

// Cycle runs one poll of the history and its content.
func (p *Poller) Cycle(ctx context.Context, historyID string) error {
	history, err := p.history(ctx, historyID)
	if err != nil {
		return err
	}
	return errors.Join(
		p.pollHistory(ctx, history),
		p.pollContents(ctx, history),
	)
}

// history returns the cached history, fetching it on first use.
func (p *Poller) history(ctx context.Context, historyID string) (*model.History, error) {
	history, err := p.cache.GetHistory(ctx, historyID)
	if err != nil {
		return nil, err
	}
	if history != nil {
		return history, nil
	}

	var raw map[string]any
	if err := p.remote.Get(ctx, historyURL(historyID), &raw); err != nil {
		return nil, fmt.Errorf("loading history %s: %w", historyID, err)
	}
	return p.cache.CacheHistory(ctx, raw)
}

func (p *Poller) pollHistory(ctx context.Context, history *model.History) error {
	since, err := p.since(ctx, ContextHistoryPoll, history)
	if err != nil {
		return err
	}
	sent := model.FormatTime(p.clock.Now())

	var list []map[string]any
	if err := p.remote.Get(ctx, pollHistoryURL(history.ID, since), &list); err != nil {
		return fmt.Errorf("polling history %s: %w", history.ID, err)
	}
	for _, raw := range list {
		if _, err := p.cache.CacheHistory(ctx, raw); err != nil {
			return err
		}
	}
	return p.cache.Store().SetRequestTime(ctx, ContextHistoryPoll, history.ID, sent)
}

func (p *Poller) pollContents(ctx context.Context, history *model.History) error {
	since, err := p.since(ctx, ContextContentPoll, history)
	if err != nil {
		return err
	}
	sent := model.FormatTime(p.clock.Now())

	var list []map[string]any
	if err := p.remote.Get(ctx, pollContentsURL(history.ID, since), &list); err != nil {
		return fmt.Errorf("polling contents of %s: %w", history.ID, err)
	}

	var errs []error
	for _, raw := range list {
		if _, err := p.cache.CacheContent(ctx, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		// Keep the old marker so the failed records are requested again.
		return errors.Join(errs...)
	}
	return p.cache.Store().SetRequestTime(ctx, ContextContentPoll, history.ID, sent)
}

// since is the context's marker, or the history's own update_time when the
// context has not completed a poll yet.
func (p *Poller) since(ctx context.Context, pollContext string, history *model.History) (string, error) {
	last, ok, err := p.cache.Store().RequestTime(ctx, pollContext, history.ID)
	if err != nil {
		return "", err
	}
	if ok {
		return last, nil
	}
	return history.UpdateTime, nil
}
