package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"github.com/moolen/lattice/internal/chain"
	"github.com/moolen/lattice/internal/network"
	"github.com/moolen/lattice/internal/version"
)

type methodFunc func(ctx context.Context, params json.RawMessage) (interface{}, *Error)

// BlockView is the RPC representation of a block.
type BlockView struct {
	Number     uint64     `json:"number"`
	Hash       chain.Hash `json:"hash"`
	ParentHash chain.Hash `json:"parentHash"`
	Timestamp  int64      `json:"timestamp"`
	Author     string     `json:"author"`
	TxCount    int        `json:"txCount"`
	Txs        []string   `json:"txs,omitempty"`
}

func newBlockView(b *chain.Block, withTxs bool) BlockView {
	v := BlockView{
		Number:     b.Number,
		Hash:       b.Hash,
		ParentHash: b.ParentHash,
		Timestamp:  b.Timestamp,
		Author:     b.Author,
		TxCount:    len(b.Txs),
	}
	if withTxs {
		v.Txs = make([]string, len(b.Txs))
		for i, tx := range b.Txs {
			v.Txs[i] = "0x" + hex.EncodeToString(tx)
		}
	}
	return v
}

// Health is returned by system_health and /health.
type Health struct {
	Status string `json:"status"`
	Head   uint64 `json:"head"`
	Peers  int    `json:"peers"`
}

func (s *Server) methods() map[string]methodFunc {
	return map[string]methodFunc{
		"chain_getHead":            s.chainGetHead,
		"chain_getBlock":           s.chainGetBlock,
		"author_submitTransaction": s.authorSubmitTransaction,
		"txpool_status":            s.txpoolStatus,
		"system_health":            s.systemHealth,
		"system_peers":             s.systemPeers,
		"system_version":           s.systemVersion,
	}
}

func (s *Server) chainGetHead(_ context.Context, _ json.RawMessage) (interface{}, *Error) {
	return newBlockView(s.client.Head(), false), nil
}

func (s *Server) chainGetBlock(_ context.Context, params json.RawMessage) (interface{}, *Error) {
	var number uint64
	if err := decodeParams(params, &number); err != nil {
		return nil, err
	}

	b, err := s.client.BlockByNumber(number)
	if errors.Is(err, chain.ErrBlockNotFound) {
		return nil, errorf(CodeBlockNotFound, "block #%d not found", number)
	}
	if err != nil {
		return nil, errorf(CodeInternalError, "%v", err)
	}
	return newBlockView(b, true), nil
}

func (s *Server) authorSubmitTransaction(_ context.Context, params json.RawMessage) (interface{}, *Error) {
	var encoded string
	if err := decodeParams(params, &encoded); err != nil {
		return nil, err
	}

	tx, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(encoded, "0x"), "0X"))
	if err != nil {
		return nil, errorf(CodeInvalidParams, "transaction must be hex encoded: %v", err)
	}

	hash, err := s.pool.Submit(tx)
	if err != nil {
		return nil, errorf(CodeInvalidTransaction, "%v", err)
	}
	return hash, nil
}

func (s *Server) txpoolStatus(_ context.Context, _ json.RawMessage) (interface{}, *Error) {
	return s.pool.Status(), nil
}

func (s *Server) systemHealth(_ context.Context, _ json.RawMessage) (interface{}, *Error) {
	return s.health(), nil
}

func (s *Server) systemPeers(_ context.Context, _ json.RawMessage) (interface{}, *Error) {
	if s.network == nil {
		return []network.PeerInfo{}, nil
	}
	return s.network.Peers(), nil
}

func (s *Server) systemVersion(_ context.Context, _ json.RawMessage) (interface{}, *Error) {
	return version.Version, nil
}

func (s *Server) health() Health {
	h := Health{Status: "ok", Head: s.client.Head().Number}
	if s.network != nil {
		h.Peers = s.network.PeerCount()
	}
	return h
}
