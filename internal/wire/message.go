package wire

import (
	"fmt"
	"io"

	"github.com/prxssh/localsync/internal/fileindex"
	"github.com/prxssh/localsync/internal/fsmodel"
)

// Register is sent by a peer on startup (spec.md §4.5, §6).
type Register struct {
	ListenPort int
	Files      []fsmodel.FileInfo
}

// RegisterAck answers a Register with the parameters the peer must use for
// the rest of the session (spec.md §4.4).
type RegisterAck struct {
	IntervalSeconds int32
	PieceLen        int64
}

// KeepAlive carries no body.
type KeepAlive struct{}

// FileUpdate carries one peer's locally observed batch of events (spec.md
// §4.5 "monitor-drain task").
type FileUpdate struct {
	Events []fsmodel.FileEvent
}

// TableUpdate carries the tracker's full current index (spec.md §4.4
// "Broadcast policy": always the whole index, never a delta).
type TableUpdate struct {
	Entries []fileindex.Entry
}

// WriteMessage writes a Register, RegisterAck, FileUpdate or TableUpdate
// (as a value or a pointer), or a KeepAlive value, as a framed message.
func WriteMessage(w io.Writer, msg any) error {
	switch m := msg.(type) {
	case Register:
		return writeRegister(w, m)
	case *Register:
		return writeRegister(w, *m)
	case RegisterAck:
		return writeRegisterAck(w, m)
	case *RegisterAck:
		return writeRegisterAck(w, *m)
	case KeepAlive:
		return writeHeader(w, TypeKeepAlive)
	case FileUpdate:
		return writeFileUpdate(w, m)
	case *FileUpdate:
		return writeFileUpdate(w, *m)
	case TableUpdate:
		return writeTableUpdate(w, m)
	case *TableUpdate:
		return writeTableUpdate(w, *m)
	default:
		return fmt.Errorf("wire: unsupported message type %T", msg)
	}
}

func writeRegister(w io.Writer, m Register) error {
	if err := writeHeader(w, TypeRegister); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(m.ListenPort)); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(m.Files))); err != nil {
		return err
	}
	if err := writeReserved8(w); err != nil {
		return err
	}
	for _, fi := range m.Files {
		if err := writeFileInfo(w, fi); err != nil {
			return err
		}
	}
	return nil
}

func writeRegisterAck(w io.Writer, m RegisterAck) error {
	if err := writeHeader(w, TypeRegisterAck); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(m.IntervalSeconds)); err != nil {
		return err
	}
	return writeUint32(w, uint32(m.PieceLen))
}

func writeFileUpdate(w io.Writer, m FileUpdate) error {
	if err := writeHeader(w, TypeFileUpdate); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(m.Events))); err != nil {
		return err
	}
	for _, ev := range m.Events {
		if err := writeFileInfo(w, ev.Info); err != nil {
			return err
		}
		if err := writeActionTag(w, ev.Action); err != nil {
			return err
		}
	}
	return nil
}

func writeTableUpdate(w io.Writer, m TableUpdate) error {
	if err := writeHeader(w, TypeTableUpdate); err != nil {
		return err
	}
	if err := writeReserved8(w); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(m.Entries))); err != nil {
		return err
	}
	if err := writeReserved8(w); err != nil {
		return err
	}
	for _, e := range m.Entries {
		peers := e.PeerList()
		if err := writeUint32(w, uint32(len(peers))); err != nil {
			return err
		}
		if err := writeReserved8(w); err != nil {
			return err
		}
		if err := writeFileInfo(w, e.Info); err != nil {
			return err
		}
		for _, p := range peers {
			if err := writePeerEndpoint(w, p); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadMessage reads one framed message from r and returns it as one of
// Register, RegisterAck, KeepAlive, FileUpdate, or TableUpdate. Unknown
// type tags are returned as the raw Type with a nil body so the caller can
// log-and-ignore per spec.md §7 (protocol errors).
func ReadMessage(r io.Reader) (Type, any, error) {
	t, err := readHeader(r)
	if err != nil {
		return 0, nil, err
	}

	switch t {
	case TypeRegister:
		m, err := readRegister(r)
		return t, m, err
	case TypeRegisterAck:
		m, err := readRegisterAck(r)
		return t, m, err
	case TypeKeepAlive:
		return t, KeepAlive{}, nil
	case TypeFileUpdate:
		m, err := readFileUpdate(r)
		return t, m, err
	case TypeTableUpdate:
		m, err := readTableUpdate(r)
		return t, m, err
	default:
		return t, nil, nil
	}
}

func readRegister(r io.Reader) (Register, error) {
	listenPort, err := readUint32(r)
	if err != nil {
		return Register{}, err
	}
	nFiles, err := readUint32(r)
	if err != nil {
		return Register{}, err
	}
	if err := discardReserved8(r); err != nil {
		return Register{}, err
	}

	files := make([]fsmodel.FileInfo, 0, nFiles)
	for i := uint32(0); i < nFiles; i++ {
		fi, err := readFileInfo(r)
		if err != nil {
			return Register{}, err
		}
		files = append(files, fi)
	}

	return Register{ListenPort: int(listenPort), Files: files}, nil
}

func readRegisterAck(r io.Reader) (RegisterAck, error) {
	interval, err := readUint32(r)
	if err != nil {
		return RegisterAck{}, err
	}
	pieceLen, err := readUint32(r)
	if err != nil {
		return RegisterAck{}, err
	}
	return RegisterAck{IntervalSeconds: int32(interval), PieceLen: int64(pieceLen)}, nil
}

func readFileUpdate(r io.Reader) (FileUpdate, error) {
	n, err := readUint32(r)
	if err != nil {
		return FileUpdate{}, err
	}

	events := make([]fsmodel.FileEvent, 0, n)
	for i := uint32(0); i < n; i++ {
		fi, err := readFileInfo(r)
		if err != nil {
			return FileUpdate{}, err
		}
		action, err := readActionTag(r)
		if err != nil {
			return FileUpdate{}, err
		}
		events = append(events, fsmodel.FileEvent{Action: action, Info: fi})
	}

	return FileUpdate{Events: events}, nil
}

func readTableUpdate(r io.Reader) (TableUpdate, error) {
	if err := discardReserved8(r); err != nil {
		return TableUpdate{}, err
	}
	nEntries, err := readUint32(r)
	if err != nil {
		return TableUpdate{}, err
	}
	if err := discardReserved8(r); err != nil {
		return TableUpdate{}, err
	}

	entries := make([]fileindex.Entry, 0, nEntries)
	for i := uint32(0); i < nEntries; i++ {
		nPeers, err := readUint32(r)
		if err != nil {
			return TableUpdate{}, err
		}
		if err := discardReserved8(r); err != nil {
			return TableUpdate{}, err
		}
		fi, err := readFileInfo(r)
		if err != nil {
			return TableUpdate{}, err
		}

		peers := make(map[fsmodel.PeerEndpoint]struct{}, nPeers)
		for j := uint32(0); j < nPeers; j++ {
			ep, err := readPeerEndpoint(r)
			if err != nil {
				return TableUpdate{}, err
			}
			peers[ep] = struct{}{}
		}

		entries = append(entries, fileindex.Entry{Info: fi, Peers: peers})
	}

	return TableUpdate{Entries: entries}, nil
}
