package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-chat/internal/model"
	"github.com/capitalize-ai/realtime-chat/pkg/logger"
	"github.com/capitalize-ai/realtime-chat/pkg/metrics"
)

// gcDiscardRatio is the share of stale data a value log file needs before it is rewritten.
const gcDiscardRatio = 0.5

// Retention runs the periodic cleanup that follows message expiry. Expired messages
// are already invisible through their TTL; the sweep reclaims their disk space and
// resets conversation pointers that still reference them.
type Retention struct {
	store    *Store
	schedule string
	logger   *logger.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewRetention creates a retention job running on a cron schedule such as "@every 1h".
func NewRetention(s *Store, schedule string, log *logger.Logger) *Retention {
	return &Retention{store: s, schedule: schedule, logger: log}
}

// Start schedules the sweep. It returns an error when the schedule does not parse.
func (r *Retention) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(r.schedule, func() {
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error("retention sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", r.schedule, err)
	}
	c.Start()
	r.cron = c
	r.logger.Info("retention scheduled", zap.String("schedule", r.schedule))
	return nil
}

// Stop cancels future sweeps and waits for a running one to finish.
func (r *Retention) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// RunOnce clears dangling lastMessage pointers and compacts the value log.
// It returns how many conversation pointers were cleared.
func (r *Retention) RunOnce(ctx context.Context) (int, error) {
	started := time.Now()
	cleared, err := r.store.clearExpiredPointers(ctx)
	if err != nil {
		metrics.RetentionRunsTotal.WithLabelValues("error").Inc()
		return cleared, err
	}
	if err := r.store.collectGarbage(); err != nil {
		metrics.RetentionRunsTotal.WithLabelValues("error").Inc()
		return cleared, err
	}

	metrics.RetentionRunsTotal.WithLabelValues("ok").Inc()
	metrics.RetentionPointersCleared.Add(float64(cleared))
	r.logger.Info("retention sweep finished",
		zap.Int("pointers_cleared", cleared),
		zap.Duration("duration", time.Since(started)),
	)
	return cleared, nil
}

// clearExpiredPointers resets lastMessage on conversations whose last message expired.
func (s *Store) clearExpiredPointers(ctx context.Context) (int, error) {
	var stale []string
	err := s.forEachConversation(ctx, func(conv *model.Conversation) error {
		if conv.LastMessageID == "" {
			return nil
		}
		var gone bool
		err := s.db.View(func(txn *badger.Txn) error {
			_, err := lookupMessageKey(txn, conv.LastMessageID)
			gone = errors.Is(err, badger.ErrKeyNotFound)
			if gone {
				return nil
			}
			return err
		})
		if err != nil {
			return err
		}
		if gone {
			stale = append(stale, conv.ID)
		}
		return nil
	})
	if err != nil {
		return 0, wrap("scan conversations", err)
	}

	cleared := 0
	for _, id := range stale {
		reset := false
		_, err := s.UpdateConversation(ctx, id, func(c *model.Conversation) (*model.Conversation, error) {
			reset = false
			if c.LastMessageID == "" {
				return c, nil
			}
			exists := true
			if err := s.db.View(func(txn *badger.Txn) error {
				_, err := lookupMessageKey(txn, c.LastMessageID)
				exists = err == nil
				return nil
			}); err != nil {
				return nil, err
			}
			// A newer message may have arrived since the scan.
			if !exists {
				c.LastMessageID = ""
				reset = true
			}
			return c, nil
		})
		if err != nil {
			return cleared, err
		}
		if reset {
			cleared++
		}
	}
	return cleared, nil
}

// collectGarbage rewrites value log files until badger reports nothing left to reclaim.
func (s *Store) collectGarbage() error {
	for {
		err := s.db.RunValueLogGC(gcDiscardRatio)
		switch {
		case err == nil:
			continue
		case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrGCInMemoryMode):
			return nil
		default:
			return wrap("value log gc", err)
		}
	}
}
