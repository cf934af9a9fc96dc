// Package store persists conversations, messages and account summaries in BadgerDB.
//
// Keys:
//
//	conv:{id}                          conversation document
//	dm:{hex(a)}:{hex(b)}               direct conversation id for the sorted pair {a,b}
//	uconv:{hex(user)}:{conv}           membership index used to list a user's conversations
//	msg:{conv}:{nanos%019d}:{msgID}    message document, chronological within a conversation
//	mid:{msgID}                        message key, to resolve a message by id
//	user:{id}                          account summary owned by the account subsystem
//
// Message documents and their id index carry a badger TTL equal to the
// message's expiresAt, so expired messages disappear from every read.
//
// User ids are opaque and may contain the ':' separator, so they are hex encoded
// wherever they are followed by another key segment.
package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-chat/internal/model"
	"github.com/capitalize-ai/realtime-chat/pkg/logger"
)

const (
	prefixConversation = "conv:"
	prefixDirect       = "dm:"
	prefixUserConv     = "uconv:"
	prefixMessage      = "msg:"
	prefixMessageID    = "mid:"
	prefixUser         = "user:"

	// maxConflictRetries bounds optimistic transaction retries on write conflicts.
	maxConflictRetries = 16
	conflictBackoff    = 2 * time.Millisecond
)

// Options configures how the database is opened.
type Options struct {
	Path     string
	InMemory bool
}

// Store is the badger-backed storage collaborator.
type Store struct {
	db     *badger.DB
	logger *logger.Logger
}

// Open opens (or creates) the database.
func Open(opts Options, log *logger.Logger) (*Store, error) {
	bopts := badger.DefaultOptions(opts.Path).
		WithLoggingLevel(badger.ERROR)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return New(db, log), nil
}

// New wraps an already opened database.
func New(db *badger.DB, log *logger.Logger) *Store {
	return &Store{db: db, logger: log}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// IsOpen reports whether the database accepts operations.
func (s *Store) IsOpen() bool {
	return s.db != nil && !s.db.IsClosed()
}

// update runs fn in a read-write transaction and retries it when another
// transaction committed a conflicting write first. fn must be safe to re-run.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.logger.Debug("transaction conflict, retrying", zap.Int("attempt", attempt+1))
		time.Sleep(time.Duration(attempt+1) * conflictBackoff)
	}
	return fmt.Errorf("%w: too many transaction conflicts: %v", model.ErrInternal, err)
}

// view runs fn in a read-only transaction.
func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any, expiresAt time.Time) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	entry := badger.NewEntry(key, data)
	if !expiresAt.IsZero() {
		entry.ExpiresAt = uint64(expiresAt.Unix())
	}
	return txn.SetEntry(entry)
}

// wrap turns raw badger failures into the internal error class and keeps domain errors as is.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, model.ErrInvalidInput) || errors.Is(err, model.ErrNotFound) ||
		errors.Is(err, model.ErrForbidden) || errors.Is(err, model.ErrLastAdmin) ||
		errors.Is(err, model.ErrInternal) || errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", model.ErrInternal, op, err)
}

func conversationKey(id string) []byte {
	return []byte(prefixConversation + id)
}

func directKey(a, b string) []byte {
	return []byte(prefixDirect + segment(a) + ":" + segment(b))
}

func userConversationKey(userID, convID string) []byte {
	return append(userConversationPrefix(userID), convID...)
}

func userConversationPrefix(userID string) []byte {
	return []byte(prefixUserConv + segment(userID) + ":")
}

// segment encodes an opaque id so it cannot contain the key separator.
func segment(id string) string {
	return hex.EncodeToString([]byte(id))
}

func messagePrefix(convID string) []byte {
	return []byte(prefixMessage + convID + ":")
}

// messageKey orders messages by creation time, then by id for equal timestamps.
// The 19-digit zero padding keeps lexicographic and chronological order aligned.
func messageKey(msg *model.Message) []byte {
	return []byte(fmt.Sprintf("%s%s:%019d:%s", prefixMessage, msg.ConversationID, msg.CreatedAt.UnixNano(), msg.ID))
}

func messageIDKey(id string) []byte {
	return []byte(prefixMessageID + id)
}

func userKey(id string) []byte {
	return []byte(prefixUser + id)
}
