package conversation

// EventType identifies a conversation channel event.
type EventType string

const (
	// EventConnected fires when the channel is established or re-established.
	EventConnected EventType = "connected"
	// EventDisconnected fires when the channel drops.
	EventDisconnected EventType = "disconnected"
	// EventTranscriptPartial carries an interim candidate transcript.
	EventTranscriptPartial EventType = "transcript_partial"
	// EventTranscriptFinal carries a finalized candidate transcript fragment.
	EventTranscriptFinal EventType = "transcript_final"
	// EventSpeechStarted fires when the examiner starts a spoken turn.
	EventSpeechStarted EventType = "speech_started"
	// EventSpeechFinished fires when the examiner finishes a spoken turn.
	EventSpeechFinished EventType = "speech_finished"
	// EventError carries a non-fatal channel error.
	EventError EventType = "error"
)

// Event is one discrete channel notification. Events are delivered in
// arrival order on a single channel so consumers never observe a transcript
// before the speech that produced it.
type Event struct {
	Type EventType
	Text string
	Err  error
}
