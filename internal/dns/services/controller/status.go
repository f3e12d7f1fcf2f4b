package controller

import (
	"fmt"
	"net/http"
)

// State is the lifecycle state of the service.
type State uint32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

// Status is the outcome of a control operation.
type Status uint8

const (
	StatusSuccess Status = iota
	StatusAlreadyRunning
	StatusNotRunning
	StatusInvalidAddress
	StatusBindFailed
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusAlreadyRunning:
		return "already_running"
	case StatusNotRunning:
		return "not_running"
	case StatusInvalidAddress:
		return "invalid_address"
	case StatusBindFailed:
		return "bind_failed"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// HTTPStatus maps a Status onto the control surface's response code.
func (s Status) HTTPStatus() int {
	switch s {
	case StatusSuccess:
		return http.StatusOK
	case StatusAlreadyRunning, StatusNotRunning:
		return http.StatusConflict
	case StatusInvalidAddress:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
