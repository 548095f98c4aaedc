package core

import "fmt"

// Status is what a member is doing in a room.
type Status string

const (
	StatusLearning Status = "learning"
	StatusRest     Status = "rest"
	StatusIdle     Status = "idle"
)

// ParseStatus validates a wire status value.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusLearning, StatusRest, StatusIdle:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrBadRequest, s)
	}
}
