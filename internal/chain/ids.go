package chain

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var moduleAccounts sync.Map // common.Address -> struct{}

// ModuleAccount derives the fixed account owned by a ledger module from its
// seed (e.g. "py/rewrd") and reserves it. No key controls these accounts and
// they can never sign an operation; only module code moves funds out of them.
func ModuleAccount(seed string) common.Address {
	addr := common.BytesToAddress(crypto.Keccak256([]byte("modl"), []byte(seed)))
	moduleAccounts.Store(addr, struct{}{})
	return addr
}

// ReserveModuleAccount marks an explicitly configured address as module owned.
func ReserveModuleAccount(addr common.Address) {
	if addr != (common.Address{}) {
		moduleAccounts.Store(addr, struct{}{})
	}
}

// IsModuleAccount reports whether addr is reserved for module code.
func IsModuleAccount(addr common.Address) bool {
	_, ok := moduleAccounts.Load(addr)
	return ok
}

// Hash returns the keccak256 of the concatenated parts.
func Hash(parts ...[]byte) common.Hash {
	return crypto.Keccak256Hash(parts...)
}

// Uint64Bytes encodes n big-endian for hashing.
func Uint64Bytes(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

// HeightKey renders a height so that lexical key order equals numeric order.
func HeightKey(h uint64) string {
	return fmt.Sprintf("%020d", h)
}

// ParseAddress accepts a 0x-prefixed hex address.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: malformed address %q", ErrInvalid, s)
	}
	return common.HexToAddress(s), nil
}

// ParseHash accepts a 0x-prefixed 32-byte hex identifier.
func ParseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: malformed id %q", ErrInvalid, s)
	}
	return common.BytesToHash(b), nil
}
