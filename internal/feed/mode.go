package feed

type Mode int32

const (
	ModeConnecting Mode = iota
	ModeStreaming
	ModePolling
)

func (m Mode) String() string {
	switch m {
	case ModeConnecting:
		return "connecting"
	case ModeStreaming:
		return "streaming"
	case ModePolling:
		return "polling"
	}
	return "unknown"
}
