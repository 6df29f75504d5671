package amqp

import (
	"encoding/json"
	"time"
)

// AMQP message type headers used to dispatch deliveries to handlers.
const (
	TypeTransactionRecorded = "transaction.recorded"
	TypeTransactionDeleted  = "transaction.deleted"
	TypeStoreChanged        = "store.changed"
)

// TransactionRecordedMessage asks the mirror worker to sync one recorded
// transaction. It carries only the row id; the worker fetches the full
// record from the database.
type TransactionRecordedMessage struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// TransactionDeletedMessage signals that a transaction was soft-deleted.
type TransactionDeletedMessage struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// StoreChangedMessage is the model's change notification crossing the
// process boundary: a compact snapshot of the store's shape, published on
// every committed mutation.
type StoreChangedMessage struct {
	Transactions int       `json:"transactions"`
	Matched      int       `json:"matched"`
	Timestamp    time.Time `json:"timestamp"`
}

func NewTransactionRecordedMessage(id int64) *TransactionRecordedMessage {
	return &TransactionRecordedMessage{ID: id, Timestamp: time.Now()}
}

func NewTransactionDeletedMessage(id int64) *TransactionDeletedMessage {
	return &TransactionDeletedMessage{ID: id, Timestamp: time.Now()}
}

func NewStoreChangedMessage(transactions, matched int) *StoreChangedMessage {
	return &StoreChangedMessage{Transactions: transactions, Matched: matched, Timestamp: time.Now()}
}

func (m *TransactionRecordedMessage) ToJSON() ([]byte, error) { return json.Marshal(m) }
func (m *TransactionDeletedMessage) ToJSON() ([]byte, error)  { return json.Marshal(m) }
func (m *StoreChangedMessage) ToJSON() ([]byte, error)        { return json.Marshal(m) }

func TransactionRecordedMessageFromJSON(data []byte) (*TransactionRecordedMessage, error) {
	var msg TransactionRecordedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func TransactionDeletedMessageFromJSON(data []byte) (*TransactionDeletedMessage, error) {
	var msg TransactionDeletedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func StoreChangedMessageFromJSON(data []byte) (*StoreChangedMessage, error) {
	var msg StoreChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
