package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"ringside/domain"
	"ringside/errors"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	sequenceKey       = "seq:dm"
	sequenceBandwidth = 100
)

// BadgerMessageStore is the embedded message table.
// Writes are serialized so that id order and created_at order agree.
type BadgerMessageStore struct {
	mu     sync.Mutex
	db     *badger.DB
	seq    *badger.Sequence
	log    *slog.Logger
	lastAt time.Time
}

// OpenBadgerMessageStore opens (or creates) a badger database at path.
func OpenBadgerMessageStore(path string, log *slog.Logger) (*BadgerMessageStore, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, errors.StoreUnavailable("open badger", err)
	}
	store, err := NewBadgerMessageStore(db, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewBadgerMessageStore takes ownership of db: Close closes it.
func NewBadgerMessageStore(db *badger.DB, log *slog.Logger) (*BadgerMessageStore, error) {
	seq, err := db.GetSequence([]byte(sequenceKey), sequenceBandwidth)
	if err != nil {
		return nil, errors.StoreUnavailable("open sequence", err)
	}
	return &BadgerMessageStore{db: db, seq: seq, log: log}, nil
}

// ThreadPrefix returns "dm:{threadKey}:", shared by both directions of a conversation.
func ThreadPrefix(a, b domain.UserID) string {
	return fmt.Sprintf("dm:%s:", domain.ThreadKey(a, b))
}

// messageKey is formatted as "dm:{threadKey}:{timestamp_padded}:{id_padded}" so a
// forward prefix scan returns the thread ordered by created_at then id.
func messageKey(m domain.Message) []byte {
	return []byte(fmt.Sprintf("%s%019d:%020d",
		ThreadPrefix(m.SenderID, m.RecipientID),
		m.CreatedAt.UnixNano(),
		m.ID,
	))
}

func (s *BadgerMessageStore) Insert(_ context.Context, sender, recipient domain.UserID, body string) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.seq.Next()
	if err != nil {
		return domain.Message{}, errors.StoreUnavailable("next id", err)
	}

	// Never go back in time, even if the wall clock does
	now := time.Now().UTC()
	if !now.After(s.lastAt) {
		now = s.lastAt.Add(time.Nanosecond)
	}

	message := domain.Message{
		ID:          n + 1,
		SenderID:    sender,
		RecipientID: recipient,
		Body:        body,
		CreatedAt:   now,
	}
	bytes, err := json.Marshal(message)
	if err != nil {
		return domain.Message{}, err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(message), bytes)
	})
	if err != nil {
		return domain.Message{}, errors.StoreUnavailable("insert", err)
	}
	s.lastAt = now
	return message, nil
}

// FetchThread scans the conversation prefix. Both directions share the prefix.
func (s *BadgerMessageStore) FetchThread(_ context.Context, a, b domain.UserID) ([]domain.Message, error) {
	var messages []domain.Message
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(ThreadPrefix(a, b))
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				var message domain.Message
				if err := json.Unmarshal(value, &message); err != nil {
					return err
				}
				messages = append(messages, message)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.StoreUnavailable("fetch thread", err)
	}
	s.log.Debug("Thread loaded", "user_a", a, "user_b", b, "count", len(messages))
	return messages, nil
}

func (s *BadgerMessageStore) Close() error {
	if err := s.seq.Release(); err != nil {
		s.log.Warn("Failed to release sequence", "error", err)
	}
	return s.db.Close()
}
