package cdp

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"cdpcore/storage"
)

// State is the persistence seam the ledger runs against. Implementations
// must return nil (not an error) for absent positions so the read
// surface never fails on untouched accounts.
type State interface {
	GetPosition(addr common.Address) (*Position, error)
	PutPosition(addr common.Address, pos *Position) error
	GetCustody(asset common.Address) (*big.Int, error)
	PutCustody(asset common.Address, amount *big.Int) error
	// EachPosition visits every stored position. Returning a non-nil
	// error from fn stops the walk.
	EachPosition(fn func(addr common.Address, pos *Position) error) error
}

const (
	positionPrefix = "cdp/pos/"
	custodyPrefix  = "cdp/custody/"
)

// KVState persists positions and custody totals as JSON documents in a
// key-value database.
type KVState struct {
	db storage.Database
}

// NewKVState wires the state layer to a database.
func NewKVState(db storage.Database) *KVState {
	return &KVState{db: db}
}

func positionKey(addr common.Address) []byte {
	return []byte(positionPrefix + addr.Hex())
}

func custodyKey(asset common.Address) []byte {
	return []byte(custodyPrefix + asset.Hex())
}

func (s *KVState) GetPosition(addr common.Address) (*Position, error) {
	if s == nil || s.db == nil {
		return nil, errNilState
	}
	raw, err := s.db.Get(positionKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	pos := &Position{}
	if err := json.Unmarshal(raw, pos); err != nil {
		return nil, fmt.Errorf("cdp state: decode position %s: %w", addr.Hex(), err)
	}
	pos.EnsureDefaults()
	return pos, nil
}

func (s *KVState) PutPosition(addr common.Address, pos *Position) error {
	if s == nil || s.db == nil {
		return errNilState
	}
	if pos == nil {
		pos = NewPosition()
	}
	pos.EnsureDefaults()
	raw, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("cdp state: encode position %s: %w", addr.Hex(), err)
	}
	return s.db.Put(positionKey(addr), raw)
}

func (s *KVState) GetCustody(asset common.Address) (*big.Int, error) {
	if s == nil || s.db == nil {
		return nil, errNilState
	}
	raw, err := s.db.Get(custodyKey(asset))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	amount, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("cdp state: corrupt custody record for %s", asset.Hex())
	}
	return amount, nil
}

func (s *KVState) PutCustody(asset common.Address, amount *big.Int) error {
	if s == nil || s.db == nil {
		return errNilState
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	return s.db.Put(custodyKey(asset), []byte(amount.String()))
}

func (s *KVState) EachPosition(fn func(addr common.Address, pos *Position) error) error {
	if s == nil || s.db == nil {
		return errNilState
	}
	return s.db.Iterate([]byte(positionPrefix), func(key, value []byte) error {
		hexAddr := string(key[len(positionPrefix):])
		if !common.IsHexAddress(hexAddr) {
			return fmt.Errorf("cdp state: corrupt position key %q", string(key))
		}
		pos := &Position{}
		if err := json.Unmarshal(value, pos); err != nil {
			return fmt.Errorf("cdp state: decode position %s: %w", hexAddr, err)
		}
		pos.EnsureDefaults()
		return fn(common.HexToAddress(hexAddr), pos)
	})
}
