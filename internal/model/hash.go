// Package model defines the entities and invariants of the ledger that
// chainsyncd keeps consistent across peers: blocks, transactions, mempool
// entries, wallets, validators, staking records, peer nodes and broadcast
// events. Storage schema is owned externally (see internal/store); this
// package only fixes the semantic shape of the data chainsyncd moves around.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
	"strings"
)

// H256 is a 32-byte hash, used for block and transaction identifiers.
type H256 [32]byte

// ZeroH256 is the zero-value hash, used as the parent of the genesis block.
var ZeroH256 H256

// ParseH256 decodes a hex string (with or without "0x" prefix) into an H256.
func ParseH256(s string) (H256, error) {
	s = strings.TrimPrefix(s, "0x")
	var h H256
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != len(h) {
		return h, errors.New("model: hash must be 32 bytes")
	}
	copy(h[:], b)
	return h, nil
}

// Hex renders the hash as a lowercase 0x-prefixed hex string.
func (h H256) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

// String satisfies fmt.Stringer.
func (h H256) String() string { return h.Hex() }

// IsZero reports whether h is the zero hash.
func (h H256) IsZero() bool { return h == ZeroH256 }

// SHA256 hashes data with a single round of SHA-256 and returns an H256.
func SHA256(data []byte) H256 {
	return H256(sha256.Sum256(data))
}

var addrPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// Addr is a normalized wallet/validator/contract address: lowercase,
// 0x-prefixed, 40 hex characters (20 bytes). ParseAddr is the validating
// constructor (spec.md §3, §9). Values converted directly with Addr(...), as
// the wire decoders in chainsync, txsync and auxsync do, are not validated
// or lowercased; Valid reports whether such a value is normalized.
type Addr string

// ParseAddr normalizes and validates an address string. Input is
// lowercased before validation so callers can pass mixed-case hex.
func ParseAddr(s string) (Addr, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !addrPattern.MatchString(s) {
		return "", errors.New("model: invalid address " + s)
	}
	return Addr(s), nil
}

// MustAddr is like ParseAddr but panics on error; intended for constants
// and tests, never for untrusted input.
func MustAddr(s string) Addr {
	a, err := ParseAddr(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String satisfies fmt.Stringer.
func (a Addr) String() string { return string(a) }

// Valid reports whether a already holds a normalized address. Useful when
// Addr values arrive from JSON decoding rather than ParseAddr.
func (a Addr) Valid() bool { return addrPattern.MatchString(string(a)) }
