// Package main implements the Bee CLI: a standalone DHT participant that
// can run as a long-lived node or perform one-shot lookups against a
// seed list.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/opendht/dhtcore/internal/dht"
	"github.com/opendht/dhtcore/pkg/constants"
	"github.com/opendht/dhtcore/pkg/transport"
	"github.com/opendht/dhtcore/pkg/transport/quic"
	"github.com/opendht/dhtcore/pkg/transport/udp"
	"github.com/opendht/dhtcore/pkg/wire"
)

// Build-time variables set by ldflags
var (
	version    = "dev"
	buildTime  = "unknown"
	commitHash = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printUsage()
	case "start":
		err = startCommand(args)
	case "id":
		err = idCommand()
	case "lookup":
		err = lookupCommand(args)
	case "announce":
		err = announceCommand(args)
	case "seed":
		err = seedCommand(args)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("Bee %s\n", version)
	fmt.Printf("Built: %s\n", buildTime)
	fmt.Printf("Commit: %s\n", commitHash)
}

func printUsage() {
	fmt.Printf(`Bee v%s - a Kademlia DHT node

Usage:
  bee <command> [options]

Commands:
  start     Run a long-lived DHT node
  id        Show (or generate) this node's local ID
  lookup    Run a FIND_NODE lookup for a target ID against the seed list
  announce  Announce this node as an endpoint for a target ID
  seed      Manage the persisted seed list (add <id> <ip> <port>)
  version   Show version information
  help      Show this help message

Examples:
  bee start --listen 0.0.0.0:%d
  bee start --transport quic --listen 0.0.0.0:%d
  bee seed add <hex-node-id> 203.0.113.5 %d
  bee lookup <hex-node-id>

`, version, constants.DefaultDHTPort, constants.DefaultQUICPort, constants.DefaultDHTPort)
}

func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dht"
	}
	return filepath.Join(home, ".dht")
}

func idPath() string {
	return filepath.Join(dataDir(), "id")
}

// loadOrCreateID loads this node's persisted 256-bit identifier, or mints
// a fresh one on first run. Unlike a content-derived wire.HashID, a
// node's own identifier has nothing meaningful to hash: it is simply a
// random point in the keyspace, generated once and kept.
func loadOrCreateID() (wire.NodeID, error) {
	path := idPath()

	if data, err := os.ReadFile(path); err == nil {
		id, err := parseNodeID(string(data))
		if err != nil {
			return wire.NodeID{}, fmt.Errorf("bee: parse %s: %w", path, err)
		}
		return id, nil
	}

	var id wire.NodeID
	if _, err := rand.Read(id[:]); err != nil {
		return wire.NodeID{}, fmt.Errorf("bee: generate id: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return wire.NodeID{}, fmt.Errorf("bee: create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(id.String()), 0600); err != nil {
		return wire.NodeID{}, fmt.Errorf("bee: write %s: %w", path, err)
	}
	return id, nil
}

func parseNodeID(s string) (wire.NodeID, error) {
	var id wire.NodeID
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(decoded) != len(id) {
		return id, fmt.Errorf("want %d bytes, got %d", len(id), len(decoded))
	}
	copy(id[:], decoded)
	return id, nil
}

func idCommand() error {
	id, err := loadOrCreateID()
	if err != nil {
		return err
	}
	fmt.Printf("ID: %s\n", id)
	return nil
}

func newTransport(name, listen string, id wire.NodeID) (transport.Transport, func() error, error) {
	switch name {
	case "udp", "":
		tr, err := udp.Listen(listen, id, 5*time.Second)
		if err != nil {
			return nil, nil, fmt.Errorf("bee: udp listen %s: %w", listen, err)
		}
		return tr, tr.Close, nil
	case "quic":
		tr := quic.New(id)
		tr.ServerTLS = generateSelfSignedTLS()
		if err := tr.Listen(listen); err != nil {
			return nil, nil, fmt.Errorf("bee: quic listen %s: %w", listen, err)
		}
		return tr, tr.Close, nil
	default:
		return nil, nil, fmt.Errorf("bee: unknown transport %q (want udp or quic)", name)
	}
}

func setHandler(tr transport.Transport, h transport.Handler) {
	switch t := tr.(type) {
	case *udp.Transport:
		t.Handler = h
	case *quic.Transport:
		t.Handler = h
	}
}

func startCommand(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	transportName := fs.String("transport", "udp", "transport to use: udp or quic")
	listen := fs.String("listen", defaultListenAddr("udp"), "address to listen on")
	seedFile := fs.String("seeds", "", "seed list file (default ~/.dht/seeds.cbor)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *listen == defaultListenAddr("udp") && *transportName == "quic" {
		*listen = defaultListenAddr("quic")
	}

	id, err := loadOrCreateID()
	if err != nil {
		return err
	}

	tr, closeFn, err := newTransport(*transportName, *listen, id)
	if err != nil {
		return err
	}
	defer closeFn()

	node := dht.New(id, tr)
	setHandler(tr, node)

	fmt.Printf("ID: %s\n", id)
	fmt.Printf("Listening on %s (%s)\n", *listen, tr.Name())

	boot, err := dht.NewBootstrap(node, *seedFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	joined := boot.Join(ctx)
	cancel()
	fmt.Printf("Joined via %d seed(s); routing table now has %d peer(s)\n", len(joined), node.RoutingTable().Size())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	fmt.Println("Running. Press Ctrl+C to stop.")
	<-sig
	return nil
}

func defaultListenAddr(transportName string) string {
	if transportName == "quic" {
		return fmt.Sprintf("0.0.0.0:%d", constants.DefaultQUICPort)
	}
	return fmt.Sprintf("0.0.0.0:%d", constants.DefaultDHTPort)
}

func lookupCommand(args []string) error {
	fs := flag.NewFlagSet("lookup", flag.ExitOnError)
	seedFile := fs.String("seeds", "", "seed list file (default ~/.dht/seeds.cbor)")
	timeout := fs.Duration("timeout", 10*time.Second, "lookup timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: bee lookup [--seeds file] <hex-node-id>")
	}

	target, err := parseNodeID(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("bee: parse target id: %w", err)
	}

	node, boot, closeFn, err := ephemeralNode(*seedFile)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	boot.Join(ctx)

	peers := node.FindNode(ctx, target)
	fmt.Printf("Found %d peer(s):\n", len(peers))
	for _, p := range peers {
		fmt.Printf("  %s @ %v:%d\n", p.ID, p.IP, p.Port)
	}
	return nil
}

func announceCommand(args []string) error {
	fs := flag.NewFlagSet("announce", flag.ExitOnError)
	seedFile := fs.String("seeds", "", "seed list file (default ~/.dht/seeds.cbor)")
	timeout := fs.Duration("timeout", 10*time.Second, "announce timeout")
	port := fs.Uint("port", uint(constants.DefaultDHTPort), "port to announce as reachable on")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: bee announce [--seeds file] [--port n] <hex-node-id>")
	}

	target, err := parseNodeID(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("bee: parse target id: %w", err)
	}

	node, boot, closeFn, err := ephemeralNode(*seedFile)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	boot.Join(ctx)

	stored := node.Announce(ctx, target, wire.Port(*port))
	fmt.Printf("Announced to %d peer(s)\n", len(stored))
	return nil
}

func ephemeralNode(seedFile string) (*dht.DHT, *dht.Bootstrap, func() error, error) {
	var id wire.NodeID
	if _, err := rand.Read(id[:]); err != nil {
		return nil, nil, nil, fmt.Errorf("bee: generate ephemeral id: %w", err)
	}

	tr, err := udp.Listen("0.0.0.0:0", id, 5*time.Second)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("bee: listen: %w", err)
	}

	node := dht.New(id, tr)
	boot, err := dht.NewBootstrap(node, seedFile)
	if err != nil {
		tr.Close()
		return nil, nil, nil, err
	}
	return node, boot, tr.Close, nil
}

func seedCommand(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: bee seed add <hex-node-id> <ip> <port>")
	}

	switch args[0] {
	case "add":
		return seedAddCommand(args[1:])
	case "list":
		return seedListCommand(args[1:])
	default:
		return fmt.Errorf("unknown seed subcommand %q", args[0])
	}
}

func seedAddCommand(args []string) error {
	fs := flag.NewFlagSet("seed add", flag.ExitOnError)
	seedFile := fs.String("seeds", "", "seed list file (default ~/.dht/seeds.cbor)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 3 {
		return fmt.Errorf("usage: bee seed add [--seeds file] <hex-node-id> <ip> <port>")
	}

	id, err := parseNodeID(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("bee: parse seed id: %w", err)
	}
	ip := parseIP(fs.Arg(1))
	var port uint
	if _, err := fmt.Sscanf(fs.Arg(2), "%d", &port); err != nil {
		return fmt.Errorf("bee: parse port: %w", err)
	}

	var localID wire.NodeID
	node := dht.New(localID, noopTransport{})
	boot, err := dht.NewBootstrap(node, *seedFile)
	if err != nil {
		return err
	}
	if err := boot.AddSeed(wire.Peer{ID: id, IP: ip, Port: wire.Port(port)}); err != nil {
		return err
	}
	fmt.Printf("Added seed %s @ %s:%d\n", id, fs.Arg(1), port)
	return nil
}

func seedListCommand(args []string) error {
	fs := flag.NewFlagSet("seed list", flag.ExitOnError)
	seedFile := fs.String("seeds", "", "seed list file (default ~/.dht/seeds.cbor)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var localID wire.NodeID
	node := dht.New(localID, noopTransport{})
	boot, err := dht.NewBootstrap(node, *seedFile)
	if err != nil {
		return err
	}

	seeds := boot.Seeds()
	fmt.Printf("%d seed(s):\n", len(seeds))
	for _, s := range seeds {
		fmt.Printf("  %s @ %v:%d\n", s.ID, s.IP, s.Port)
	}
	return nil
}

func parseIP(s string) []byte {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return []byte(s) // best-effort: IPv6 literal, stored verbatim
		}
	}
	var a, b, c, d byte
	fmt.Sscanf(s, "%d.%d.%d.%d", &a, &b, &c, &d)
	return []byte{a, b, c, d}
}

// noopTransport lets seed-management subcommands build a DHT facade
// without ever issuing an RPC.
type noopTransport struct{}

func (noopTransport) FindNode(ctx context.Context, endpoint wire.Endpoint, target wire.NodeID) (*wire.Response, error) {
	return nil, fmt.Errorf("bee: no transport configured")
}
func (noopTransport) FindValue(ctx context.Context, endpoint wire.Endpoint, target wire.NodeID) (*wire.Response, error) {
	return nil, fmt.Errorf("bee: no transport configured")
}
func (noopTransport) Store(ctx context.Context, endpoint wire.Endpoint, token wire.Token, id wire.NodeID, port wire.Port) (*wire.Response, error) {
	return nil, fmt.Errorf("bee: no transport configured")
}
func (noopTransport) Name() string { return "none" }
