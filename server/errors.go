package server

import (
	"errors"
	"fmt"

	"github.com/cyberinferno/go-lobby/frame"
)

// ErrAlreadyRunning is returned when Run is called more than once.
var ErrAlreadyRunning = errors.New("server: already running")

// errProtocol marks a peer that sent a header no legal frame can have.
var errProtocol = errors.New("server: protocol violation")

// AcceptStage names the step at which a connection attempt was abandoned.
type AcceptStage string

const (
	StageAccept    AcceptStage = "accept"
	StageConfigure AcceptStage = "configure"
	StageIdentity  AcceptStage = "identity"
	StageRegister  AcceptStage = "register"
	StagePoll      AcceptStage = "poll"
)

// AcceptError reports a connection attempt that was abandoned. The socket,
// if one was accepted, has already been closed.
type AcceptError struct {
	Stage AcceptStage
	Err   error
}

func (e *AcceptError) Error() string {
	return fmt.Sprintf("server: %s failed: %v", e.Stage, e.Err)
}

func (e *AcceptError) Unwrap() error {
	return e.Err
}

func errBadIdentity(id string) error {
	return fmt.Errorf("identity %q is not %d bytes", id, frame.IdentityLen)
}
