package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"

	"github.com/capitalize-ai/realtime-chat/internal/guard"
	"github.com/capitalize-ai/realtime-chat/internal/model"
)

// readBatchSize caps how many messages one read-receipt transaction rewrites.
const readBatchSize = 500

// MessageMutateFunc derives the next state of a message. Returning an error aborts the write.
type MessageMutateFunc func(current *model.Message) (*model.Message, error)

// AppendMessage stores a new message. Its TTL is the fixed expiresAt set at creation.
func (s *Store) AppendMessage(ctx context.Context, msg *model.Message) error {
	key := messageKey(msg)
	err := s.update(ctx, func(txn *badger.Txn) error {
		if err := setJSON(txn, key, msg, msg.ExpiresAt); err != nil {
			return err
		}
		entry := badger.NewEntry(messageIDKey(msg.ID), key)
		entry.ExpiresAt = uint64(msg.ExpiresAt.Unix())
		return txn.SetEntry(entry)
	})
	return wrap("append message", err)
}

// GetMessage loads a message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	msg := &model.Message{}
	err := s.view(ctx, func(txn *badger.Txn) error {
		key, err := lookupMessageKey(txn, id)
		if err != nil {
			return err
		}
		return getJSON(txn, key, msg)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: message not found", model.ErrNotFound)
	}
	if err != nil {
		return nil, wrap("get message", err)
	}
	return msg, nil
}

// PageMessages returns up to limit messages after skipping offset, walking newest first,
// and the total number of live messages in the conversation. The page itself is
// returned in chronological order.
func (s *Store) PageMessages(ctx context.Context, convID string, offset, limit int) ([]model.Message, int, error) {
	var (
		page  []model.Message
		total int
	)
	err := s.view(ctx, func(txn *badger.Txn) error {
		page, total = nil, 0
		prefix := messagePrefix(convID)

		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		// 0xFF sorts after every digit, so the seek lands on the newest key of the prefix.
		for it.Seek(append(slices.Clone(prefix), 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			index := total
			total++
			if index < offset || index >= offset+limit {
				continue
			}
			var msg model.Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}
			page = append(page, msg)
		}
		return nil
	})
	if err != nil {
		return nil, 0, wrap("page messages", err)
	}

	slices.Reverse(page)
	if page == nil {
		page = []model.Message{}
	}
	return page, total, nil
}

// CountMessages returns how many live messages a conversation holds.
func (s *Store) CountMessages(ctx context.Context, convID string) (int, error) {
	var total int
	err := s.view(ctx, func(txn *badger.Txn) error {
		total = 0
		prefix := messagePrefix(convID)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			total++
		}
		return nil
	})
	return total, wrap("count messages", err)
}

// UpdateMessage applies fn to the stored message atomically, preserving its expiry.
func (s *Store) UpdateMessage(ctx context.Context, id string, fn MessageMutateFunc) (*model.Message, error) {
	var updated *model.Message
	err := s.update(ctx, func(txn *badger.Txn) error {
		key, err := lookupMessageKey(txn, id)
		if err != nil {
			return err
		}
		current := &model.Message{}
		if err := getJSON(txn, key, current); err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		if err := setJSON(txn, key, next, current.ExpiresAt); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: message not found", model.ErrNotFound)
	}
	if err != nil {
		return nil, wrap("update message", err)
	}
	return updated, nil
}

// MarkConversationRead adds userID to seenBy on every message of the conversation
// that does not already hold it. It returns how many messages changed.
func (s *Store) MarkConversationRead(ctx context.Context, convID, userID string) (int, error) {
	var pending [][]byte
	err := s.view(ctx, func(txn *badger.Txn) error {
		pending = nil
		prefix := messagePrefix(convID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var msg model.Message
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}
			if !msg.SeenByUser(userID) {
				pending = append(pending, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, wrap("scan unread messages", err)
	}

	changed := 0
	for _, batch := range lo.Chunk(pending, readBatchSize) {
		var n int
		err := s.update(ctx, func(txn *badger.Txn) error {
			n = 0
			for _, key := range batch {
				msg := &model.Message{}
				if err := getJSON(txn, key, msg); err != nil {
					// Expired between the scan and this write.
					if errors.Is(err, badger.ErrKeyNotFound) {
						continue
					}
					return err
				}
				seen, ok := guard.MarkSeen(msg.SeenBy, userID)
				if !ok {
					continue
				}
				msg.SeenBy = seen
				if err := setJSON(txn, key, msg, msg.ExpiresAt); err != nil {
					return err
				}
				n++
			}
			return nil
		})
		if err != nil {
			return changed, wrap("mark messages read", err)
		}
		changed += n
	}
	return changed, nil
}

func lookupMessageKey(txn *badger.Txn, id string) ([]byte, error) {
	item, err := txn.Get(messageIDKey(id))
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}
