package callstate

import (
	"github.com/looplab/fsm"
)

const (
	eventDial     = "dial"
	eventProgress = "progress"
	eventAnswer   = "answer"
	eventHangUp   = "hangup"
	eventRelease  = "release"
)

// newMachine builds the local line's transition table. Callbacks are not used:
// the coordinator applies side effects and broadcasts after Event returns.
func newMachine() *fsm.FSM {
	return fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: eventDial, Src: []string{string(StateIdle)}, Dst: string(StateConnecting)},
			{Name: eventProgress, Src: []string{string(StateConnecting)}, Dst: string(StateRinging)},
			{Name: eventAnswer, Src: []string{string(StateRinging)}, Dst: string(StateConnected)},
			{Name: eventHangUp, Src: []string{
				string(StateConnecting),
				string(StateRinging),
				string(StateConnected),
			}, Dst: string(StateEnding)},
			{Name: eventRelease, Src: []string{string(StateEnding)}, Dst: string(StateIdle)},
		},
		fsm.Callbacks{},
	)
}
