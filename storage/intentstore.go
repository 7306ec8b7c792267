package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"intentchain/native/amm"
	"intentchain/native/intents"
)

// Key layout. Intent keys embed the big-endian intent id, so iterating the
// prefix visits intents in id order, which is deadline order.
var (
	intentKeyPrefix = []byte("intents/i/")
	sequenceKey     = []byte("intents/seq")
)

// intentRecord is the RLP wire form of a stored intent. The id lives in the
// key and is not duplicated here.
type intentRecord struct {
	Owner     [20]byte
	AssetIn   uint32
	AssetOut  uint32
	AmountIn  *big.Int
	AmountOut *big.Int
	Direction uint8
	Partial   bool
	Deadline  uint64
	OnSuccess []byte
	OnFailure []byte
}

// IntentStore persists the open-intent set and the submission sequence
// counter in a Database. It implements the intent engine's state contract.
type IntentStore struct {
	mu sync.Mutex
	db Database
}

// NewIntentStore wraps the database in an intent state backend.
func NewIntentStore(db Database) (*IntentStore, error) {
	if db == nil {
		return nil, errors.New("storage: nil database")
	}
	return &IntentStore{db: db}, nil
}

func intentKey(id intents.IntentID) []byte {
	key := make([]byte, 0, len(intentKeyPrefix)+len(id))
	key = append(key, intentKeyPrefix...)
	return append(key, id[:]...)
}

func encodeIntent(intent *intents.Intent) ([]byte, error) {
	record := intentRecord{
		Owner:     intent.Owner,
		AssetIn:   uint32(intent.Swap.AssetIn),
		AssetOut:  uint32(intent.Swap.AssetOut),
		AmountIn:  intent.Swap.AmountIn,
		AmountOut: intent.Swap.AmountOut,
		Direction: uint8(intent.Swap.Direction),
		Partial:   intent.Partial,
		Deadline:  intent.Deadline,
		OnSuccess: intent.OnSuccess,
		OnFailure: intent.OnFailure,
	}
	return rlp.EncodeToBytes(&record)
}

func decodeIntent(id intents.IntentID, raw []byte) (*intents.Intent, error) {
	var record intentRecord
	if err := rlp.DecodeBytes(raw, &record); err != nil {
		return nil, fmt.Errorf("storage: decode intent %s: %w", id, err)
	}
	intent := &intents.Intent{
		ID:      id,
		Owner:   record.Owner,
		Partial: record.Partial,
		Swap: intents.Swap{
			AssetIn:   amm.AssetID(record.AssetIn),
			AssetOut:  amm.AssetID(record.AssetOut),
			AmountIn:  record.AmountIn,
			AmountOut: record.AmountOut,
			Direction: intents.Direction(record.Direction),
		},
		Deadline: record.Deadline,
	}
	if len(record.OnSuccess) > 0 {
		intent.OnSuccess = record.OnSuccess
	}
	if len(record.OnFailure) > 0 {
		intent.OnFailure = record.OnFailure
	}
	return intent, nil
}

// IntentPut stores or replaces the intent.
func (s *IntentStore) IntentPut(intent *intents.Intent) error {
	if intent == nil {
		return errors.New("storage: nil intent")
	}
	raw, err := encodeIntent(intent)
	if err != nil {
		return err
	}
	return s.db.Put(intentKey(intent.ID), raw)
}

// IntentGet loads the intent, reporting existence separately from errors.
func (s *IntentStore) IntentGet(id intents.IntentID) (*intents.Intent, bool, error) {
	raw, err := s.db.Get(intentKey(id))
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	intent, err := decodeIntent(id, raw)
	if err != nil {
		return nil, false, err
	}
	return intent, true, nil
}

// IntentDelete removes the intent. Deleting a missing intent is a no-op.
func (s *IntentStore) IntentDelete(id intents.IntentID) error {
	return s.db.Delete(intentKey(id))
}

// IntentAscend visits every stored intent in id order until fn returns
// false.
func (s *IntentStore) IntentAscend(fn func(*intents.Intent) bool) error {
	var decodeErr error
	err := s.db.Iterate(intentKeyPrefix, func(key, value []byte) bool {
		if len(key) != len(intentKeyPrefix)+16 {
			decodeErr = fmt.Errorf("storage: malformed intent key %x", key)
			return false
		}
		var id intents.IntentID
		copy(id[:], key[len(intentKeyPrefix):])
		intent, err := decodeIntent(id, value)
		if err != nil {
			decodeErr = err
			return false
		}
		return fn(intent)
	})
	if decodeErr != nil {
		return decodeErr
	}
	return err
}

// NextSequence atomically allocates the next submission sequence number,
// starting at 1.
func (s *IntentStore) NextSequence() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next uint64 = 1
	raw, err := s.db.Get(sequenceKey)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return 0, err
	case len(raw) == 8:
		next = binary.BigEndian.Uint64(raw) + 1
	default:
		return 0, fmt.Errorf("storage: malformed sequence record")
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := s.db.Put(sequenceKey, buf); err != nil {
		return 0, err
	}
	return next, nil
}
