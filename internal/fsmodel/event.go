package fsmodel

// Action tags a FileEvent with the kind of change it reports (spec §3).
type Action uint8

const (
	Created Action = iota
	Modified
	Deleted
	DownloadComplete
)

func (a Action) String() string {
	switch a {
	case Created:
		return "CREATED"
	case Modified:
		return "MODIFIED"
	case Deleted:
		return "DELETED"
	case DownloadComplete:
		return "DOWNLOAD_COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is a FileInfo tagged with the action that produced it.
type FileEvent struct {
	Action Action
	Info   FileInfo
}
