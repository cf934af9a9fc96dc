package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"

	"github.com/capitalize-ai/realtime-chat/internal/guard"
	"github.com/capitalize-ai/realtime-chat/internal/model"
)

// MutateFunc derives the next state of a conversation. Returning an error aborts the write.
type MutateFunc func(current *model.Conversation) (*model.Conversation, error)

// FindOrCreateDirect returns the direct conversation of {a, b}, creating it with
// newConv when none exists. The dm pair key is read inside the same transaction that
// writes it, so concurrent callers conflict and the loser re-reads the winner's id.
func (s *Store) FindOrCreateDirect(ctx context.Context, a, b string, newConv func() *model.Conversation) (*model.Conversation, bool, error) {
	x, y := guard.DirectPair(a, b)
	pairKey := directKey(x, y)

	var (
		conv    *model.Conversation
		created bool
	)
	err := s.update(ctx, func(txn *badger.Txn) error {
		conv, created = nil, false

		item, err := txn.Get(pairKey)
		switch {
		case err == nil:
			var id []byte
			if id, err = item.ValueCopy(nil); err != nil {
				return err
			}
			existing := &model.Conversation{}
			if err := getJSON(txn, conversationKey(string(id)), existing); err != nil {
				return fmt.Errorf("dm index points at missing conversation %s: %w", id, err)
			}
			if !guard.IsDirectBetween(existing, a, b) {
				return fmt.Errorf("%w: dm index for %s does not match its pair", model.ErrInternal, id)
			}
			conv = existing
			return nil
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		fresh := newConv()
		if !guard.IsDirectBetween(fresh, a, b) {
			return fmt.Errorf("%w: malformed direct conversation", model.ErrInternal)
		}
		if err := txn.Set(pairKey, []byte(fresh.ID)); err != nil {
			return err
		}
		if err := putConversation(txn, fresh, nil); err != nil {
			return err
		}
		conv, created = fresh, true
		return nil
	})
	if err != nil {
		return nil, false, wrap("find or create direct conversation", err)
	}
	return conv, created, nil
}

// CreateConversation stores a new conversation and indexes its participants.
func (s *Store) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(conversationKey(conv.ID)); err == nil {
			return fmt.Errorf("%w: conversation %s already exists", model.ErrInternal, conv.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return putConversation(txn, conv, nil)
	})
	return wrap("create conversation", err)
}

// GetConversation loads a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	conv := &model.Conversation{}
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, conversationKey(id), conv)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: conversation not found", model.ErrNotFound)
	}
	if err != nil {
		return nil, wrap("get conversation", err)
	}
	return conv, nil
}

// UpdateConversation applies fn to the stored conversation atomically and keeps
// the membership index in step with the participant set.
func (s *Store) UpdateConversation(ctx context.Context, id string, fn MutateFunc) (*model.Conversation, error) {
	var updated *model.Conversation
	err := s.update(ctx, func(txn *badger.Txn) error {
		current := &model.Conversation{}
		if err := getJSON(txn, conversationKey(id), current); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: conversation not found", model.ErrNotFound)
			}
			return err
		}
		next, err := fn(current.Clone())
		if err != nil {
			return err
		}
		if next.IsGroup {
			if err := guard.CheckGroup(next); err != nil {
				return err
			}
		}
		if err := putConversation(txn, next, current); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, wrap("update conversation", err)
	}
	return updated, nil
}

// SetLastMessage points the conversation at msgID and bumps updatedAt.
func (s *Store) SetLastMessage(ctx context.Context, convID, msgID string, at time.Time) error {
	_, err := s.UpdateConversation(ctx, convID, func(c *model.Conversation) (*model.Conversation, error) {
		c.LastMessageID = msgID
		if at.After(c.UpdatedAt) {
			c.UpdatedAt = at
		}
		return c, nil
	})
	return err
}

// ListConversationsForUser returns every conversation userID participates in,
// most recently updated first.
func (s *Store) ListConversationsForUser(ctx context.Context, userID string) ([]*model.Conversation, error) {
	var convs []*model.Conversation
	err := s.view(ctx, func(txn *badger.Txn) error {
		prefix := userConversationPrefix(userID)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		var ids []string
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), string(prefix)))
		}

		for _, id := range ids {
			conv := &model.Conversation{}
			if err := getJSON(txn, conversationKey(id), conv); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				return err
			}
			// The index is maintained with the document, this only guards stale reads.
			if conv.HasParticipant(userID) {
				convs = append(convs, conv)
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrap("list conversations", err)
	}

	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return convs, nil
}

// forEachConversation calls fn for every stored conversation.
func (s *Store) forEachConversation(ctx context.Context, fn func(conv *model.Conversation) error) error {
	return s.view(ctx, func(txn *badger.Txn) error {
		prefix := []byte(prefixConversation)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			conv := &model.Conversation{}
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, conv)
			}); err != nil {
				return err
			}
			if err := fn(conv); err != nil {
				return err
			}
		}
		return nil
	})
}

// putConversation writes next and reconciles the membership index against previous.
func putConversation(txn *badger.Txn, next, previous *model.Conversation) error {
	if err := setJSON(txn, conversationKey(next.ID), next, time.Time{}); err != nil {
		return err
	}

	var before []string
	if previous != nil {
		before = previous.Participants
	}
	added, removed := lo.Difference(next.Participants, before)
	for _, userID := range added {
		if err := txn.Set(userConversationKey(userID, next.ID), []byte{}); err != nil {
			return err
		}
	}
	for _, userID := range removed {
		if err := txn.Delete(userConversationKey(userID, next.ID)); err != nil {
			return err
		}
	}
	return nil
}
