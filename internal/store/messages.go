package store

import (
	"fmt"

	"gorm.io/gorm"
)

// MessageStore provides append and range-query access to the durable
// message log.
type MessageStore struct {
	db *gorm.DB
}

// NewMessageStore creates a MessageStore backed by db.
func NewMessageStore(db *gorm.DB) *MessageStore {
	return &MessageStore{db: db}
}

// Insert appends a message record. The timestamp is assigned by the store on
// insert; the auto-increment id keeps ordering stable when timestamps tie.
func (s *MessageStore) Insert(sender, recipient, content string) (*Message, error) {
	msg := &Message{
		Sender:    sender,
		Recipient: recipient,
		Content:   content,
	}
	if err := s.db.Create(msg).Error; err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// History returns all messages exchanged between userA and userB in either
// direction, ordered by creation time ascending. The single query gives a
// consistent snapshot; inserts arriving during iteration are not observed.
func (s *MessageStore) History(userA, userB string) ([]Message, error) {
	var messages []Message
	err := s.db.
		Where("(sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?)",
			userA, userB, userB, userA).
		Order("timestamp ASC, id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return messages, nil
}
