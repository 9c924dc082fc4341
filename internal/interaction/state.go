// Package interaction drives the wake/listen/sleep cycle of the assistant.
//
// An [Orchestrator] owns the interaction state. Transcripts from the capture
// stream, inactivity-timer expiries and sleep requests all reach it as
// messages on channels, and only its Run goroutine mutates state. While
// awake, commands are handed to a [Processor], which recognises and executes
// them on its own goroutine and publishes the replies.
//
//	Sleeping ──wake phrase──▶ AwakeGreeting ──▶ ListeningCommands
//	    ▲                                              │
//	    └──────── timeout / sleep phrase / sleep intent┘
//
// Any state moves to Terminated when the Run context is cancelled.
package interaction

// State is the interaction state.
type State int32

const (
	// StateSleeping waits for a wake phrase. Commands are ignored.
	StateSleeping State = iota

	// StateAwakeGreeting is entered on a wake phrase while the greeting and
	// introduction are spoken. It is left immediately afterwards.
	StateAwakeGreeting

	// StateListeningCommands forwards transcripts to the command processor
	// until the inactivity timer fires or a sleep phrase is heard.
	StateListeningCommands

	// StateTerminated is final.
	StateTerminated
)

var stateNames = [...]string{
	StateSleeping:          "sleeping",
	StateAwakeGreeting:     "awake_greeting",
	StateListeningCommands: "listening_commands",
	StateTerminated:        "terminated",
}

// String returns the snake_case name of s.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Sleep reasons recorded in logs and the journal.
const (
	ReasonTimeout     = "timeout"
	ReasonSleepPhrase = "sleep_phrase"
	ReasonRequested   = "requested"
)
