package network

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"

	goversion "github.com/hashicorp/go-version"
	"github.com/moolen/lattice/internal/chain"
)

// The wire protocol is line based. Each side opens with
//
//	HELLO <version> <genesis-hash> <head-number>
//
// and then sends
//
//	HEAD <number> <hash>
//
// whenever it imports a block.
const (
	msgHello = "HELLO"
	msgHead  = "HEAD"

	maxLineLength = 512
)

var (
	// ErrGenesisMismatch is returned when a peer runs another chain.
	ErrGenesisMismatch = errors.New("peer has a different genesis block")
	// ErrVersionTooOld is returned when a peer is below the minimum version.
	ErrVersionTooOld = errors.New("peer version below minimum")
	// ErrTooManyPeers is returned when max_peers connections are established.
	ErrTooManyPeers = errors.New("too many peers")
)

// hello is the handshake message.
type hello struct {
	Version *goversion.Version
	Genesis chain.Hash
	Head    uint64
}

func (h hello) String() string {
	return fmt.Sprintf("%s %s %s %d", msgHello, h.Version.String(), h.Genesis.String(), h.Head)
}

func parseHello(line string) (hello, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 || fields[0] != msgHello {
		return hello{}, fmt.Errorf("malformed handshake %q", line)
	}

	v, err := goversion.NewVersion(fields[1])
	if err != nil {
		return hello{}, fmt.Errorf("invalid peer version %q: %w", fields[1], err)
	}
	genesis, err := chain.ParseHash(fields[2])
	if err != nil {
		return hello{}, err
	}
	head, err := strconv.ParseUint(fields[3], 10, 64)
	if err != nil {
		return hello{}, fmt.Errorf("invalid head %q: %w", fields[3], err)
	}

	return hello{Version: v, Genesis: genesis, Head: head}, nil
}

// check validates a remote handshake against the local chain and version gate.
func (h hello) check(genesis chain.Hash, minVersion *goversion.Version) error {
	if h.Genesis != genesis {
		return fmt.Errorf("%w: %s", ErrGenesisMismatch, h.Genesis.Short())
	}
	if minVersion != nil && h.Version.LessThan(minVersion) {
		return fmt.Errorf("%w: %s < %s", ErrVersionTooOld, h.Version, minVersion)
	}
	return nil
}

func formatHead(b *chain.Block) string {
	return fmt.Sprintf("%s %d %s", msgHead, b.Number, b.Hash.String())
}

func parseHead(line string) (uint64, chain.Hash, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 || fields[0] != msgHead {
		return 0, chain.Hash{}, fmt.Errorf("malformed message %q", line)
	}
	n, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, chain.Hash{}, fmt.Errorf("invalid block number %q: %w", fields[1], err)
	}
	h, err := chain.ParseHash(fields[2])
	if err != nil {
		return 0, chain.Hash{}, err
	}
	return n, h, nil
}

// readLine reads one newline-terminated line of bounded length.
func readLine(r *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		frag, isPrefix, err := r.ReadLine()
		if err != nil {
			return "", err
		}
		sb.Write(frag)
		if sb.Len() > maxLineLength {
			return "", fmt.Errorf("line exceeds %d bytes", maxLineLength)
		}
		if !isPrefix {
			return sb.String(), nil
		}
	}
}
