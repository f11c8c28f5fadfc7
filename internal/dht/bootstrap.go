package dht

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/opendht/dhtcore/pkg/codec/cborcanon"
	"github.com/opendht/dhtcore/pkg/wire"
)

// SeedPeer is a bootstrap contact: an endpoint believed to already be
// part of the network, persisted across process restarts so a node
// doesn't have to be told its seeds every time.
type SeedPeer struct {
	ID   wire.NodeID `cbor:"id"`
	IP   []byte      `cbor:"ip"`
	Port wire.Port   `cbor:"port"`
}

func (s SeedPeer) peer() wire.Peer {
	return wire.Peer{ID: s.ID, IP: s.IP, Port: s.Port}
}

// Bootstrap manages a node's seed list and the join sequence: probe each
// seed with a FindNode to confirm it's alive, seed the routing table with
// it, then run a self-lookup to pull in whatever the seeds already know.
type Bootstrap struct {
	mu       sync.RWMutex
	dht      *DHT
	seedFile string
	seeds    []SeedPeer
}

// NewBootstrap creates a bootstrap manager for dht, persisting its seed
// list at seedFile. If seedFile is empty, a default under the user's
// home directory is used. An existing file is loaded immediately; a
// missing one starts empty.
func NewBootstrap(d *DHT, seedFile string) (*Bootstrap, error) {
	if d == nil {
		return nil, fmt.Errorf("dht: bootstrap requires a DHT")
	}
	if seedFile == "" {
		seedFile = defaultSeedFile()
	}

	b := &Bootstrap{dht: d, seedFile: seedFile}
	if err := b.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("dht: load seed file: %w", err)
	}
	return b, nil
}

func defaultSeedFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "dht-seeds.cbor"
	}
	return filepath.Join(home, ".dht", "seeds.cbor")
}

// AddSeed adds peer to the seed list and persists it.
func (b *Bootstrap) AddSeed(peer wire.Peer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	seed := SeedPeer{ID: peer.ID, IP: append([]byte(nil), peer.IP...), Port: peer.Port}
	for i, existing := range b.seeds {
		if existing.ID == seed.ID {
			b.seeds[i] = seed
			return b.save()
		}
	}
	b.seeds = append(b.seeds, seed)
	return b.save()
}

// Seeds returns a copy of the current seed list.
func (b *Bootstrap) Seeds() []SeedPeer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]SeedPeer(nil), b.seeds...)
}

// Join sends every seed a FindNode for this node's own ID, adds the ones
// that respond to the routing table, and then performs a self-lookup and
// adds every peer it found alive, so the rest of the network's closest
// peers to this node are pulled in. Join never fails outright — like
// Engine.Run, it returns what it has: the seeds that responded.
func (b *Bootstrap) Join(ctx context.Context) []wire.Peer {
	seeds := b.Seeds()

	var joined []wire.Peer
	for _, seed := range seeds {
		peer := seed.peer()
		if _, err := b.dht.transport.FindNode(ctx, peer.Endpoint(), b.dht.NodeID()); err != nil {
			continue
		}
		b.dht.Seen(peer)
		joined = append(joined, peer)
	}

	for _, peer := range b.dht.FindNode(ctx, b.dht.NodeID()) {
		b.dht.Seen(peer)
	}
	return joined
}

func (b *Bootstrap) load() error {
	data, err := os.ReadFile(b.seedFile)
	if err != nil {
		return err
	}
	var seeds []SeedPeer
	if err := cborcanon.Unmarshal(data, &seeds); err != nil {
		return fmt.Errorf("dht: parse seed file: %w", err)
	}
	b.seeds = seeds
	return nil
}

func (b *Bootstrap) save() error {
	if err := os.MkdirAll(filepath.Dir(b.seedFile), 0700); err != nil {
		return fmt.Errorf("dht: create seed directory: %w", err)
	}
	data, err := cborcanon.Marshal(b.seeds)
	if err != nil {
		return fmt.Errorf("dht: marshal seed list: %w", err)
	}
	return os.WriteFile(b.seedFile, data, 0600)
}
