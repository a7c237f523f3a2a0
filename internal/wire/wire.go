// Package wire implements LocalSync's framed request/response protocol —
// REGISTER, REGISTER_ACK, KEEP_ALIVE, FILE_UPDATE, TABLE_UPDATE — over a
// single TCP stream per peer<->tracker session (spec.md §6, C8).
//
// The original protocol's header carries a field that was once an
// in-memory pointer in the C implementation; the spec requires that field
// be read and discarded, never interpreted (spec.md §9 "Opaque pointer
// padding"). Every framing struct below reserves an 8-byte Reserved field
// at the corresponding position for exactly that purpose.
package wire

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/prxssh/localsync/internal/fsmodel"
)

// Type tags a message on the wire (spec.md §6 table).
type Type uint8

const (
	TypeError       Type = 0 // reserved; never sent
	TypeRegister    Type = 1
	TypeRegisterAck Type = 2
	TypeKeepAlive   Type = 3
	TypeTableUpdate Type = 4
	TypeFileUpdate  Type = 5
)

func (t Type) String() string {
	switch t {
	case TypeError:
		return "ERROR"
	case TypeRegister:
		return "REGISTER"
	case TypeRegisterAck:
		return "REGISTER_ACK"
	case TypeKeepAlive:
		return "KEEP_ALIVE"
	case TypeTableUpdate:
		return "TABLE_UPDATE"
	case TypeFileUpdate:
		return "FILE_UPDATE"
	default:
		return "UNKNOWN"
	}
}

// maxFilepathBytes is the on-wire fixed width of a filepath field,
// including the NUL terminator (spec.md §6 FileInfo record).
const maxFilepathBytes = 1275 + 1

// maxIPBytes is the on-wire fixed width of an IP field, including the NUL
// terminator (spec.md §6 PeerEndpoint record).
const maxIPBytes = 40

var (
	ErrPathTooLong = errors.New("wire: filepath exceeds on-wire field width")
	ErrIPTooLong   = errors.New("wire: ip exceeds on-wire field width")
	ErrBadMessage  = errors.New("wire: malformed message")
)

var order = binary.BigEndian

// --- Header ---

// header is the fixed-layout prefix of every frame: a type tag followed by
// 8 bytes of opaque padding (spec.md §6).
type header struct {
	Type     Type
	Reserved [8]byte
}

func writeHeader(w io.Writer, t Type) error {
	var buf [9]byte
	buf[0] = byte(t)
	_, err := w.Write(buf[:])
	return err
}

func readHeader(r io.Reader) (Type, error) {
	var buf [9]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return Type(buf[0]), nil
}

// --- FileInfo record ---

func writeFileInfo(w io.Writer, fi fsmodel.FileInfo) error {
	if len(fi.Filepath) > maxFilepathBytes-1 {
		return ErrPathTooLong
	}

	var path [maxFilepathBytes]byte
	copy(path[:], fi.Filepath)

	if _, err := w.Write(path[:]); err != nil {
		return err
	}

	var rest [8 + 8 + 4 + 8]byte
	order.PutUint64(rest[0:8], uint64(fi.Size))
	order.PutUint64(rest[8:16], uint64(fi.LastModified))
	if fi.IsDir {
		order.PutUint32(rest[16:20], 1)
	}
	// rest[20:28] is reserved pointer-padding.

	_, err := w.Write(rest[:])
	return err
}

func readFileInfo(r io.Reader) (fsmodel.FileInfo, error) {
	var path [maxFilepathBytes]byte
	if _, err := io.ReadFull(r, path[:]); err != nil {
		return fsmodel.FileInfo{}, err
	}

	var rest [8 + 8 + 4 + 8]byte
	if _, err := io.ReadFull(r, rest[:]); err != nil {
		return fsmodel.FileInfo{}, err
	}

	return fsmodel.FileInfo{
		Filepath:     cStringFromBytes(path[:]),
		Size:         int64(order.Uint64(rest[0:8])),
		LastModified: int64(order.Uint64(rest[8:16])),
		IsDir:        order.Uint32(rest[16:20]) != 0,
	}, nil
}

// --- PeerEndpoint record ---

func writePeerEndpoint(w io.Writer, ep fsmodel.PeerEndpoint) error {
	if len(ep.IP) > maxIPBytes-1 {
		return ErrIPTooLong
	}

	var ip [maxIPBytes]byte
	copy(ip[:], ep.IP)
	if _, err := w.Write(ip[:]); err != nil {
		return err
	}

	var rest [4 + 8]byte
	order.PutUint32(rest[0:4], uint32(ep.Port))
	_, err := w.Write(rest[:])
	return err
}

func readPeerEndpoint(r io.Reader) (fsmodel.PeerEndpoint, error) {
	var ip [maxIPBytes]byte
	if _, err := io.ReadFull(r, ip[:]); err != nil {
		return fsmodel.PeerEndpoint{}, err
	}

	var rest [4 + 8]byte
	if _, err := io.ReadFull(r, rest[:]); err != nil {
		return fsmodel.PeerEndpoint{}, err
	}

	return fsmodel.PeerEndpoint{
		IP:   cStringFromBytes(ip[:]),
		Port: int(order.Uint32(rest[0:4])),
	}, nil
}

func cStringFromBytes(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	order.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return order.Uint32(buf[:]), nil
}

// writeActionTag/readActionTag encode the "FileEvent-header" that follows
// each FileInfo in a FILE_UPDATE payload (spec.md §6): a one-byte action
// tag plus the same 8 bytes of opaque pointer-padding every header
// reserves.
func writeActionTag(w io.Writer, a fsmodel.Action) error {
	var buf [9]byte
	buf[0] = byte(a)
	_, err := w.Write(buf[:])
	return err
}

func readActionTag(r io.Reader) (fsmodel.Action, error) {
	var buf [9]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return fsmodel.Action(buf[0]), nil
}

func writeReserved8(w io.Writer) error {
	var buf [8]byte
	_, err := w.Write(buf[:])
	return err
}

func discardReserved8(r io.Reader) error {
	var buf [8]byte
	_, err := io.ReadFull(r, buf[:])
	return err
}
