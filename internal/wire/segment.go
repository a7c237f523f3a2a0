package wire

import (
	"io"

	"github.com/prxssh/localsync/internal/fsmodel"
)

// SegmentRequest is sent on a fresh per-worker TCP stream between a
// download coordinator and an upload server (spec.md §4.6, §4.7, §6). It is
// a distinct sub-protocol from the tracker session messages above: each
// socket carries nothing but a sequence of these requests (and their raw
// byte-range responses), so there is no leading type tag to dispatch on.
type SegmentRequest struct {
	InitOffset     int64 // -1 signals client-initiated termination
	Length         int64
	TableEntryHint int64 // opaque; carried for parity with the original layout, unused by either side
	Status         int32
}

// segmentRequestBytes: init_offset(8) + length(8) + table_entry_hint(8) +
// status(4) + pointer-padding(8).
const segmentRequestBytes = 8 + 8 + 8 + 4 + 8

// WriteSegmentRequest writes sr followed by the FileInfo frame naming the
// file the request concerns (spec.md §4.6 step 1).
func WriteSegmentRequest(w io.Writer, sr SegmentRequest, fi fsmodel.FileInfo) error {
	var buf [segmentRequestBytes]byte
	order.PutUint64(buf[0:8], uint64(sr.InitOffset))
	order.PutUint64(buf[8:16], uint64(sr.Length))
	order.PutUint64(buf[16:24], uint64(sr.TableEntryHint))
	order.PutUint32(buf[24:28], uint32(sr.Status))
	// buf[28:36] is reserved pointer-padding.

	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	return writeFileInfo(w, fi)
}

// ReadSegmentRequest reads a SegmentRequest and its follow-on FileInfo
// frame.
func ReadSegmentRequest(r io.Reader) (SegmentRequest, fsmodel.FileInfo, error) {
	var buf [segmentRequestBytes]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return SegmentRequest{}, fsmodel.FileInfo{}, err
	}

	sr := SegmentRequest{
		InitOffset:     int64(order.Uint64(buf[0:8])),
		Length:         int64(order.Uint64(buf[8:16])),
		TableEntryHint: int64(order.Uint64(buf[16:24])),
		Status:         int32(order.Uint32(buf[24:28])),
	}

	fi, err := readFileInfo(r)
	if err != nil {
		return SegmentRequest{}, fsmodel.FileInfo{}, err
	}
	return sr, fi, nil
}

// TerminationOffset is the init_offset value that signals the worker is
// done and the upload server should close the stream (spec.md §4.6 step 2,
// §4.7 step 4).
const TerminationOffset = -1
