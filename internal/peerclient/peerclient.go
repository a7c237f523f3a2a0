// Package peerclient implements the peer control loop (spec.md §4.5, C10):
// registration, heartbeating, streaming local events to the tracker, and
// reconciling the watched directory against every broadcast index.
package peerclient

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prxssh/localsync/internal/config"
	"github.com/prxssh/localsync/internal/fsmodel"
	"github.com/prxssh/localsync/internal/monitor"
	"github.com/prxssh/localsync/internal/observer"
	"github.com/prxssh/localsync/internal/retry"
	"github.com/prxssh/localsync/internal/scandir"
	"github.com/prxssh/localsync/internal/upload"
	"github.com/prxssh/localsync/internal/wire"
)

// Client is one peer process: it owns a watched directory, a monitor, an
// upload server, and the single session socket to the tracker.
type Client struct {
	cfg            *config.Config
	dir            string
	trackerAddr    string
	streamsPerPeer int
	log            *slog.Logger

	mon      *monitor.Monitor
	obs      *observer.Observer
	uploader *upload.Server

	connMu sync.Mutex
	conn   net.Conn

	self     fsmodel.PeerEndpoint
	interval time.Duration
	pieceLen int64
}

// New constructs a peer client. The watch directory is created if it does
// not already exist (spec.md §6 "Peer command line").
func New(cfg *config.Config, dir, trackerAddr string, streamsPerPeer int, log *slog.Logger) (*Client, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("peerclient: create watch dir: %w", err)
	}

	obs, err := observer.New(dir, log)
	if err != nil {
		return nil, fmt.Errorf("peerclient: start observer: %w", err)
	}

	return &Client{
		cfg:            cfg,
		dir:            dir,
		trackerAddr:    trackerAddr,
		streamsPerPeer: streamsPerPeer,
		log:            log.With("component", "peerclient"),
		obs:            obs,
		mon:            monitor.New(obs, cfg.SettleDelay, log),
	}, nil
}

// Run performs startup (connect, register, start upload server), then
// blocks running the heartbeat, monitor-drain, and TABLE_UPDATE receive
// loops until ctx is cancelled (Run then returns nil) or the tracker session
// fails.
func (c *Client) Run(ctx context.Context) error {
	go c.mon.Run()
	defer c.mon.Stop()

	if err := c.connectAndRegister(ctx); err != nil {
		return err
	}
	defer c.conn.Close()

	if err := c.startUploadServer(); err != nil {
		return err
	}
	defer c.uploader.Close()

	g := &sync.WaitGroup{}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// receiveLoop's read does not observe ctx; closing the session socket
	// on cancellation is what unblocks it.
	go func() {
		<-runCtx.Done()
		_ = c.conn.Close()
	}()

	g.Add(1)
	go func() { defer g.Done(); c.heartbeatLoop(runCtx) }()
	go c.drainLoop(runCtx) // not joined; see drainLoop

	err := c.receiveLoop(runCtx)
	cancel()
	g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// connectAndRegister dials the tracker with retry/backoff (spec.md §10.3
// ambient retry policy for an otherwise untimed transport error), then
// sends REGISTER with this peer's listen port and full local scan, and
// waits for REGISTER_ACK.
func (c *Client) connectAndRegister(ctx context.Context) error {
	var conn net.Conn
	err := retry.Do(ctx, func(ctx context.Context) error {
		var dialErr error
		conn, dialErr = net.DialTimeout("tcp", c.trackerAddr, c.cfg.DialTimeout)
		if dialErr != nil {
			c.log.Warn("tracker dial failed, retrying", "tracker", c.trackerAddr, "error", dialErr.Error())
		}
		return dialErr
	}, retry.WithMaxDelay(c.cfg.DialTimeout*4))
	if err != nil {
		return fmt.Errorf("peerclient: connect to tracker: %w", err)
	}
	c.conn = conn

	host, _, err := net.SplitHostPort(conn.LocalAddr().String())
	if err != nil {
		return fmt.Errorf("peerclient: determine local endpoint: %w", err)
	}

	listenPort, err := chooseUploadPort(c.cfg.UploadPortMin, c.cfg.UploadPortMax)
	if err != nil {
		return err
	}

	// Our own peer-endpoint identity must match how the tracker will see
	// us in a broadcast peer set: the source IP it reads off the accepted
	// socket, paired with the listen_port we announce (spec.md §9
	// "Self-echo via peer endpoint comparison").
	c.self = fsmodel.PeerEndpoint{IP: host, Port: listenPort}

	files, err := scandir.Scan(c.dir, c.log)
	if err != nil {
		return fmt.Errorf("peerclient: initial scan: %w", err)
	}

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("peerclient: set REGISTER write deadline: %w", err)
	}
	if err := wire.WriteMessage(conn, wire.Register{ListenPort: listenPort, Files: files}); err != nil {
		return fmt.Errorf("peerclient: send REGISTER: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		return fmt.Errorf("peerclient: set REGISTER_ACK read deadline: %w", err)
	}
	typ, msg, err := wire.ReadMessage(conn)
	if err != nil {
		return fmt.Errorf("peerclient: read REGISTER_ACK: %w", err)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return fmt.Errorf("peerclient: clear read deadline: %w", err)
	}
	if typ != wire.TypeRegisterAck {
		return fmt.Errorf("peerclient: expected REGISTER_ACK, got %v", typ)
	}
	ack := msg.(wire.RegisterAck)
	c.interval = time.Duration(ack.IntervalSeconds) * time.Second
	c.pieceLen = ack.PieceLen

	c.log.Info("registered with tracker", "listen_port", listenPort, "files", len(files), "interval", c.interval, "piece_len", c.pieceLen)
	return nil
}

func (c *Client) startUploadServer() error {
	c.uploader = upload.New(c.dir, c.cfg.ReadTimeout, c.cfg.WriteTimeout, c.log)
	addr := fmt.Sprintf("0.0.0.0:%d", c.self.Port)
	if err := c.uploader.Listen(addr); err != nil {
		return fmt.Errorf("peerclient: start upload server: %w", err)
	}
	go c.uploader.Serve()
	return nil
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeMessage(wire.KeepAlive{}); err != nil {
				c.log.Warn("keepalive failed", "error", err.Error())
				return
			}
		}
	}
}

// drainLoop is the "monitor-drain task" (spec.md §4.5): it drain-blocks the
// monitor's queue and ships each batch as one FILE_UPDATE. DrainBlocking has
// no cancellable wait and the queue is never closed, so after ctx is done
// this goroutine exits only when the next event arrives; Run therefore does
// not wait for it.
func (c *Client) drainLoop(ctx context.Context) {
	for {
		batch := c.mon.Queue().DrainBlocking()

		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.writeMessage(wire.FileUpdate{Events: batch}); err != nil {
			c.log.Warn("file update send failed", "error", err.Error())
			return
		}
	}
}

func (c *Client) receiveLoop(ctx context.Context) error {
	for {
		typ, msg, err := wire.ReadMessage(c.conn)
		if err != nil {
			return fmt.Errorf("peerclient: tracker session ended: %w", err)
		}
		if typ != wire.TypeTableUpdate {
			c.log.Debug("ignoring message", "type", typ)
			continue
		}
		table := msg.(wire.TableUpdate)
		c.reconcile(ctx, table)
	}
}

func (c *Client) writeMessage(msg any) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return wire.WriteMessage(c.conn, msg)
}

// chooseUploadPort picks a random ephemeral port in [min, max] (spec.md §6
// "Peer upload port").
func chooseUploadPort(min, max int) (int, error) {
	if max < min {
		return 0, fmt.Errorf("peerclient: invalid upload port range [%d, %d]", min, max)
	}
	span := max - min + 1
	return min + rand.Intn(span), nil
}

// relPathToOS converts a slash-separated index path to this OS's path
// separator, rooted at dir.
func relPathToOS(dir, relPath string) string {
	return filepath.Join(dir, filepath.FromSlash(relPath))
}
