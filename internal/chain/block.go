package chain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
)

// Hash is a SHA-256 digest identifying a block or transaction.
type Hash [32]byte

// String returns the 0x-prefixed hex encoding.
func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// Short returns the first four bytes in hex, for logs.
func (h Hash) Short() string {
	return hex.EncodeToString(h[:4])
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash parses a hex hash with or without the 0x prefix.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("invalid hash length %d, want %d", len(b), len(h))
	}
	copy(h[:], b)
	return h, nil
}

// HashTx returns the hash of an encoded transaction.
func HashTx(tx []byte) Hash {
	return sha256.Sum256(tx)
}

// Block is a block of opaque transactions. Blocks are immutable once built.
type Block struct {
	Number     uint64   `json:"number"`
	ParentHash Hash     `json:"parentHash"`
	Hash       Hash     `json:"hash"`
	Timestamp  int64    `json:"timestamp"` // unix milliseconds
	Author     string   `json:"author"`
	Txs        [][]byte `json:"txs"`
}

// NewBlock builds the child of parent containing txs.
func NewBlock(parent *Block, txs [][]byte, author string, ts time.Time) *Block {
	b := &Block{
		Number:     parent.Number + 1,
		ParentHash: parent.Hash,
		Timestamp:  ts.UnixMilli(),
		Author:     author,
		Txs:        txs,
	}
	b.Hash = b.ComputeHash()
	return b
}

// GenesisBlock returns the block every lattice chain starts from.
func GenesisBlock() *Block {
	b := &Block{Author: "genesis"}
	b.Hash = b.ComputeHash()
	return b
}

// ComputeHash hashes the header fields and the transaction hashes.
func (b *Block) ComputeHash() Hash {
	h := sha256.New()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], b.Number)
	h.Write(buf[:])
	h.Write(b.ParentHash[:])
	binary.BigEndian.PutUint64(buf[:], uint64(b.Timestamp)) //nolint:gosec // timestamps are positive
	h.Write(buf[:])
	h.Write([]byte(b.Author))
	for _, tx := range b.Txs {
		txHash := HashTx(tx)
		h.Write(txHash[:])
	}

	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// TxHashes returns the hashes of the block's transactions.
func (b *Block) TxHashes() []Hash {
	out := make([]Hash, len(b.Txs))
	for i, tx := range b.Txs {
		out[i] = HashTx(tx)
	}
	return out
}

// Time returns the block timestamp.
func (b *Block) Time() time.Time {
	return time.UnixMilli(b.Timestamp)
}
