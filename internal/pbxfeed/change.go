package pbxfeed

import "time"

// Phase is the lifecycle point a PBX call has reached.
type Phase string

const (
	PhaseRinging  Phase = "ringing"
	PhaseAnswered Phase = "answered"
	PhaseHungUp   Phase = "hungup"
)

// Endpoint is one side of a PBX call.
type Endpoint struct {
	Extension string `json:"extension"`
	Name      string `json:"name,omitempty"`
}

// Change describes a call entering a new phase.
type Change struct {
	Phase     Phase     `json:"event"`
	CallID    string    `json:"call_id"`
	From      Endpoint  `json:"from"`
	To        Endpoint  `json:"to"`
	Timestamp time.Time `json:"timestamp"`

	RingSeconds  float64 `json:"ring_duration_seconds,omitempty"`
	Cause        string  `json:"cause,omitempty"`
	CauseCode    int     `json:"cause_code,omitempty"`
	TalkSeconds  float64 `json:"talk_duration_seconds,omitempty"`
	TotalSeconds float64 `json:"total_duration_seconds,omitempty"`
}

// hangupCauses names the Q.850 cause codes Asterisk reports most often.
var hangupCauses = map[int]string{
	16:  "normal_clearing",
	17:  "user_busy",
	18:  "no_answer",
	19:  "no_answer",
	21:  "call_rejected",
	31:  "normal_unspecified",
	34:  "congestion",
	127: "interworking",
}

func causeName(code int, cancelled, answered bool) string {
	if cancelled && !answered {
		return "cancelled"
	}
	if name, ok := hangupCauses[code]; ok {
		return name
	}
	return "unknown"
}
