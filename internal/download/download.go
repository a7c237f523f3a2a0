// Package download implements the parallel multi-peer segmented download
// coordinator (spec.md §4.7, C12): given a cloned IndexEntry, it fetches
// the file from the union of its peer set over |peers|*S sockets and
// writes it to the watch directory through a single serializing writer
// task.
package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prxssh/localsync/internal/fileindex"
	"github.com/prxssh/localsync/internal/fsmodel"
	"github.com/prxssh/localsync/internal/wire"
)

// Status is a segment's position in the UNDOWNLOADED -> DOWNLOADING ->
// DOWNLOADED state machine (spec.md §4.7 coordination invariants).
type Status int

const (
	Undownloaded Status = iota
	Downloading
	Downloaded
)

type segment struct {
	initOffset int64
	length     int64
	status     Status
}

// fileSequence is one segment's body, queued for the writer task.
type fileSequence struct {
	initOffset int64
	data       []byte
}

// Coordinator drives a single file's download. Construct with New and run
// with Run; the zero value is not usable.
type Coordinator struct {
	dir            string
	entry          fileindex.Entry
	pieceLen       int64
	streamsPerPeer int
	dialTimeout    time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	log            *slog.Logger

	mu          sync.Mutex
	segments    []segment
	numReceived int
}

// New constructs a coordinator for entry (the caller must pass a cloned
// entry — see fileindex.Entry.Clone — so the coordinator owns a stable
// snapshot, per spec.md §4.7 "Inputs").
func New(dir string, entry fileindex.Entry, pieceLen int64, streamsPerPeer int, dialTimeout, readTimeout, writeTimeout time.Duration, log *slog.Logger) *Coordinator {
	return &Coordinator{
		dir:            dir,
		entry:          entry,
		pieceLen:       pieceLen,
		streamsPerPeer: streamsPerPeer,
		dialTimeout:    dialTimeout,
		readTimeout:    readTimeout,
		writeTimeout:   writeTimeout,
		log:            log.With("component", "download", "path", entry.Info.Filepath),
	}
}

// Run downloads the file (or, for a size-0 entry, short-circuits) and
// invokes onComplete with the coordinator's cloned entry once every byte
// has been written (spec.md §4.7 "Termination").
func (c *Coordinator) Run(ctx context.Context, onComplete func(fileindex.Entry)) error {
	if c.entry.Info.Size == 0 {
		onComplete(c.entry)
		return nil
	}

	n := int((c.entry.Info.Size + c.pieceLen - 1) / c.pieceLen)
	c.segments = make([]segment, n)
	for i := 0; i < n; i++ {
		length := c.pieceLen
		if i == n-1 {
			length = c.entry.Info.Size - int64(i)*c.pieceLen
		}
		c.segments[i] = segment{initOffset: int64(i) * c.pieceLen, length: length}
	}

	peers := c.entry.PeerList()
	if len(peers) == 0 {
		return fmt.Errorf("download: no source peers for %s", c.entry.Info.Filepath)
	}

	dest := filepath.Join(c.dir, filepath.FromSlash(c.entry.Info.Filepath))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("download: mkdir parent: %w", err)
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("download: open destination: %w", err)
	}

	seqCh := make(chan fileSequence, len(peers)*c.streamsPerPeer)
	writerDone := make(chan error, 1)
	go c.runWriter(f, n, seqCh, onComplete, writerDone)

	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range peers {
		peer := peer
		for s := 0; s < c.streamsPerPeer; s++ {
			g.Go(func() error {
				c.runWorker(gctx, peer, seqCh)
				return nil
			})
		}
	}
	_ = g.Wait()
	close(seqCh)

	return <-writerDone
}

// runWorker is one of |peers|*S worker tasks (spec.md §4.7 "Worker loop").
func (c *Coordinator) runWorker(ctx context.Context, peer fsmodel.PeerEndpoint, seqCh chan<- fileSequence) {
	conn, err := net.DialTimeout("tcp", peer.String(), c.dialTimeout)
	if err != nil {
		c.log.Warn("worker dial failed", "peer", peer, "error", err.Error())
		return
	}
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		idx, ok := c.claimSegment()
		if !ok {
			c.sendTermination(conn)
			return
		}

		seg := c.segments[idx]
		if err := c.fetchSegment(conn, seg, seqCh); err != nil {
			c.log.Debug("segment fetch failed, reverting", "offset", seg.initOffset, "peer", peer, "error", err.Error())
			c.revertSegment(idx)
			return
		}
	}
}

// claimSegment scans left to right for the first UNDOWNLOADED segment and
// marks it DOWNLOADING (spec.md §4.7 step 1). Returns false when no
// segment remains unclaimed.
func (c *Coordinator) claimSegment() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.segments {
		if c.segments[i].status == Undownloaded {
			c.segments[i].status = Downloading
			return i, true
		}
	}
	return 0, false
}

func (c *Coordinator) revertSegment(idx int) {
	c.mu.Lock()
	c.segments[idx].status = Undownloaded
	c.mu.Unlock()
}

func (c *Coordinator) fetchSegment(conn net.Conn, seg segment, seqCh chan<- fileSequence) error {
	req := wire.SegmentRequest{InitOffset: seg.initOffset, Length: seg.length}
	if err := conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	if err := wire.WriteSegmentRequest(conn, req, c.entry.Info); err != nil {
		return err
	}

	// Bound the read against a source peer that accepts the socket but
	// never sends (or stalls partway through) the requested bytes; without
	// this io.ReadFull blocks forever and the segment never reverts
	// (spec.md §7 "Transport error").
	if err := conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return err
	}
	buf := make([]byte, seg.length)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return err
	}

	seqCh <- fileSequence{initOffset: seg.initOffset, data: buf}

	c.mu.Lock()
	for i := range c.segments {
		if c.segments[i].initOffset == seg.initOffset {
			c.segments[i].status = Downloaded
			break
		}
	}
	c.numReceived++
	c.mu.Unlock()

	return nil
}

func (c *Coordinator) sendTermination(conn net.Conn) {
	_ = conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	_ = wire.WriteSegmentRequest(conn, wire.SegmentRequest{InitOffset: wire.TerminationOffset}, c.entry.Info)
}

// runWriter is the single writer task (spec.md §4.7): it owns the
// destination file exclusively and writes each init_offset exactly once.
func (c *Coordinator) runWriter(f *os.File, n int, seqCh <-chan fileSequence, onComplete func(fileindex.Entry), done chan<- error) {
	written := 0
	for seq := range seqCh {
		if _, err := f.WriteAt(seq.data, seq.initOffset); err != nil {
			c.log.Error("writer: write failed", "offset", seq.initOffset, "error", err.Error())
			continue
		}
		written++
	}

	if written != n {
		f.Close()
		done <- fmt.Errorf("download: wrote %d/%d segments for %s", written, n, c.entry.Info.Filepath)
		return
	}

	if err := f.Sync(); err != nil {
		c.log.Warn("writer: fsync failed", "error", err.Error())
	}
	f.Close()

	mtime := time.Unix(c.entry.Info.LastModified, 0)
	if err := os.Chtimes(f.Name(), mtime, mtime); err != nil {
		c.log.Warn("writer: set mtime failed", "error", err.Error())
	}

	onComplete(c.entry)
	done <- nil
}
