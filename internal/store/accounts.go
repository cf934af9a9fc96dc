package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"

	"github.com/capitalize-ai/realtime-chat/internal/model"
)

// PutAccount writes an account summary. Accounts belong to the account subsystem;
// the chat core only reads them, this exists for that subsystem and for seeding.
func (s *Store) PutAccount(ctx context.Context, account model.UserSummary) error {
	if account.ID == "" {
		return fmt.Errorf("%w: account id required", model.ErrInvalidInput)
	}
	err := s.update(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, userKey(account.ID), account, time.Time{})
	})
	return wrap("put account", err)
}

// ResolveMany returns a summary for every distinct id, in first-seen order.
// Ids with no stored account resolve to a summary carrying only the id.
func (s *Store) ResolveMany(ctx context.Context, ids []string) ([]model.UserSummary, error) {
	ids = lo.Uniq(lo.Compact(ids))
	out := make([]model.UserSummary, 0, len(ids))
	err := s.view(ctx, func(txn *badger.Txn) error {
		out = out[:0]
		for _, id := range ids {
			summary := model.UserSummary{ID: id}
			if err := getJSON(txn, userKey(id), &summary); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			summary.ID = id
			out = append(out, summary)
		}
		return nil
	})
	if err != nil {
		return nil, wrap("resolve accounts", err)
	}
	return out, nil
}
