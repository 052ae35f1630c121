package livereload

// MessageKind is one of the two notifications pushed to browsers.
type MessageKind int

const (
	RebuildStarted MessageKind = iota
	Reload
)

// Token returns the text sent on the wire for k.
func (k MessageKind) Token() string {
	switch k {
	case RebuildStarted:
		return "rebuild_started"
	case Reload:
		return "reload"
	default:
		return ""
	}
}

func (k MessageKind) String() string {
	switch k {
	case RebuildStarted:
		return "REBUILD_STARTED"
	case Reload:
		return "RELOAD"
	default:
		return "UNKNOWN"
	}
}
