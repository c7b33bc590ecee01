package enums

import "fmt"

// StreamStatus tracks the lifecycle of a streaming job.
type StreamStatus string

const (
	StreamStatusLive    StreamStatus = "live"
	StreamStatusStopped StreamStatus = "stopped"
	StreamStatusFailed  StreamStatus = "failed"
)

var validStreamStatuses = []StreamStatus{
	StreamStatusLive,
	StreamStatusStopped,
	StreamStatusFailed,
}

// String implements fmt.Stringer.
func (s StreamStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known StreamStatus.
func (s StreamStatus) IsValid() bool {
	for _, candidate := range validStreamStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseStreamStatus converts raw input into a StreamStatus.
func ParseStreamStatus(value string) (StreamStatus, error) {
	for _, candidate := range validStreamStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid stream status %q", value)
}
