//go:build !windows

// Command mshardecho is a demo binary wiring the whole stack end to end: a
// sharded manager.SelectorManager accepts TCP connections, echoes whatever
// bytes arrive back to the peer via endpoint.Connection, optionally dials a
// peer address to exercise the Connect-with-timeout path, and shuts down
// gracefully on SIGINT/SIGTERM.
//
// Grounded on webitel-im-delivery-service/cmd/cmd.go's cli.App/cli.Command
// and signal.Notify shutdown shape.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/corenet/mselector"
	"github.com/corenet/mselector/endpoint"
	"github.com/corenet/mselector/manager"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "mshardecho",
		Usage: "sharded managed-selector echo server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Value: ":9515", Usage: "TCP address to accept echo connections on"},
			&cli.IntFlag{Name: "shards", Value: 0, Usage: "shard count (0 = size off GOMAXPROCS)"},
			&cli.StringFlag{Name: "connect", Usage: "optional peer address to dial and exercise Connect"},
			&cli.DurationFlag{Name: "connect-timeout", Value: 2 * time.Second},
			&cli.DurationFlag{Name: "stop-timeout", Value: 5 * time.Second},
			&cli.StringFlag{Name: "log-level", Value: "info"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	level, err := zerolog.ParseLevel(c.String("log-level"))
	if err != nil {
		return fmt.Errorf("mshardecho: %w", err)
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	mgr := manager.New(echoEndpoint,
		manager.WithShards(c.Int("shards")),
		manager.WithConnectTimeout(c.Duration("connect-timeout")),
		manager.WithStopTimeout(c.Duration("stop-timeout")),
		manager.WithLogger(log),
	)
	if err := mgr.Start(); err != nil {
		return fmt.Errorf("mshardecho: start manager: %w", err)
	}

	lfd, closeListener, err := listenRawTCP(c.String("listen"))
	if err != nil {
		return fmt.Errorf("mshardecho: listen: %w", err)
	}
	defer closeListener()

	if err := mgr.RegisterAcceptor(lfd, func() (int, error) {
		return acceptNonblock(lfd)
	}); err != nil {
		return fmt.Errorf("mshardecho: register acceptor: %w", err)
	}
	log.Info().Str("addr", c.String("listen")).Msg("accepting echo connections")

	if peer := c.String("connect"); peer != "" {
		if err := dialPeer(mgr, peer, log); err != nil {
			log.Warn().Err(err).Str("peer", peer).Msg("connect demo failed to start")
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), c.Duration("stop-timeout")+time.Second)
	defer cancel()
	return mgr.Stop(ctx)
}

// echoEndpoint is the manager.NewEndpointFunc: it wraps fd as an
// endpoint.Connection whose DataHandler queues everything it reads straight
// back out, the simplest possible exerciser for the accept/dispatch path
// (spec.md's E1 scenario).
func echoEndpoint(sel *mselector.ManagedSelector, fd int, _ any) (mselector.Selectable, error) {
	return endpoint.NewConnection(sel, fd, func(c *endpoint.Connection, data []byte) {
		c.QueueEcho(data)
	}, func() error { return syscall.Close(fd) }), nil
}

// listenRawTCP opens a standard net.Listener (for address parsing/binding),
// extracts its raw non-blocking fd for direct poller registration, and
// returns a closer that releases both without double-closing the fd — this
// is the same "operate on the duplicated/underlying fd directly instead of
// through the Go runtime's own accept loop" approach the teacher's watcher.go
// comment describes using dup() for, applied here to the listener itself
// since nothing else ever calls ln.Accept().
func listenRawTCP(addr string) (fd int, closeFn func(), err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return -1, nil, err
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return -1, nil, fmt.Errorf("mshardecho: unexpected listener type %T", ln)
	}
	rawConn, err := tcpLn.SyscallConn()
	if err != nil {
		_ = ln.Close()
		return -1, nil, err
	}
	var lfd int
	ctrlErr := rawConn.Control(func(fd uintptr) { lfd = int(fd) })
	if ctrlErr != nil {
		_ = ln.Close()
		return -1, nil, ctrlErr
	}
	if err := syscall.SetNonblock(lfd, true); err != nil {
		_ = ln.Close()
		return -1, nil, err
	}
	return lfd, func() { _ = ln.Close() }, nil
}

// acceptNonblock accepts one connection and arms it non-blocking.
// syscall.Accept4 (with SOCK_NONBLOCK) is Linux-only, so this uses the
// portable syscall.Accept plus a follow-up SetNonblock instead, keeping the
// demo buildable on every platform poller_kqueue.go targets.
func acceptNonblock(lfd int) (int, error) {
	cfd, _, err := syscall.Accept(lfd)
	if err != nil {
		return -1, err
	}
	if err := syscall.SetNonblock(cfd, true); err != nil {
		_ = syscall.Close(cfd)
		return -1, err
	}
	return cfd, nil
}

// dialPeer exercises the Connect-with-timeout path (spec.md §4.4, E2/E3):
// open a non-blocking socket, kick off the connect, and hand it to the
// manager so the armed timeout races the OS-level completion.
func dialPeer(mgr *manager.SelectorManager, addr string, log zerolog.Logger) error {
	raddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return err
	}
	ip4 := raddr.IP.To4()
	if ip4 == nil {
		return fmt.Errorf("mshardecho: only IPv4 peers are supported by this demo, got %s", addr)
	}

	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_STREAM, 0)
	if err != nil {
		return err
	}
	if err := syscall.SetNonblock(fd, true); err != nil {
		_ = syscall.Close(fd)
		return err
	}

	sa := &syscall.SockaddrInet4{Port: raddr.Port}
	copy(sa.Addr[:], ip4)
	err = syscall.Connect(fd, sa)
	if err != nil && err != syscall.EINPROGRESS {
		_ = syscall.Close(fd)
		return err
	}

	return mgr.Connect(fd, nil, checkConnectResult)
}

// checkConnectResult implements the finishConnect contract
// mselector.ManagedSelector.Connect requires: read SO_ERROR once the
// descriptor reports write-ready to learn whether the non-blocking connect
// actually completed.
func checkConnectResult(fd int) (bool, error) {
	errno, err := syscall.GetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_ERROR)
	if err != nil {
		return false, err
	}
	if errno != 0 {
		return false, syscall.Errno(errno)
	}
	return true, nil
}
