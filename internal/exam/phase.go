package exam

import "time"

// Phase is the controller's discrete state within one test attempt.
// Exactly one phase is active at a time.
type Phase string

const (
	PhaseConnecting             Phase = "connecting"
	PhaseIdentityCheck          Phase = "identity_check"
	PhasePart1Intro             Phase = "part1_intro"
	PhasePart1Questions         Phase = "part1_questions"
	PhasePart1QuestionRecording Phase = "part1_question_recording"
	PhasePart2Intro             Phase = "part2_intro"
	PhasePart2Prep              Phase = "part2_prep"
	PhasePart2Speaking          Phase = "part2_speaking"
	PhasePart3Intro             Phase = "part3_intro"
	PhasePart3Questions         Phase = "part3_questions"
	PhasePart3QuestionRecording Phase = "part3_question_recording"
	PhaseSubmitting             Phase = "submitting"
	PhaseDone                   Phase = "done"
)

// Interactive reports whether the candidate can act in this phase. Ending
// the test is allowed from any interactive phase.
func (p Phase) Interactive() bool {
	switch p {
	case PhaseIdentityCheck, PhasePart1Intro, PhasePart1Questions, PhasePart1QuestionRecording,
		PhasePart2Intro, PhasePart2Prep, PhasePart2Speaking,
		PhasePart3Intro, PhasePart3Questions, PhasePart3QuestionRecording:
		return true
	}
	return false
}

// Part returns the test part this phase belongs to, or 0 outside the parts.
func (p Phase) Part() int {
	switch p {
	case PhasePart1Intro, PhasePart1Questions, PhasePart1QuestionRecording:
		return 1
	case PhasePart2Intro, PhasePart2Prep, PhasePart2Speaking:
		return 2
	case PhasePart3Intro, PhasePart3Questions, PhasePart3QuestionRecording:
		return 3
	}
	return 0
}

// Fixed exam timing policy. These are properties of the test format, not
// user-configurable settings.
const (
	// Part1AnswerTime is the per-question answer countdown in part 1.
	Part1AnswerTime = 30 * time.Second
	// Part2PrepTime is the cue-card preparation countdown.
	Part2PrepTime = 60 * time.Second
	// Part2SpeakingTime is the monologue countdown.
	Part2SpeakingTime = 120 * time.Second
	// Part2FluencyMinimum is the minimum monologue speaking time in seconds.
	// Speaking for less than this raises the fluency flag; exactly meeting
	// it does not.
	Part2FluencyMinimum = 80.0
	// Part3AnswerTime is the default per-question answer countdown in part 3.
	Part3AnswerTime = 45 * time.Second
	// Part3AnswerTimeMax caps per-question overrides for discussion
	// questions that warrant longer answers.
	Part3AnswerTimeMax = 60 * time.Second
	// PostSpeechDelay is the fallback pause between the end of examiner
	// speech and the next capture start, used when no explicit completion
	// signal arrives.
	PostSpeechDelay = 2 * time.Second
	// ExaminerTurnFallback bounds the wait for a speech-finished signal
	// after sending a question directive. The signal is the primary
	// mechanism; this timer only covers endpoints that never send one.
	ExaminerTurnFallback = 4 * time.Second
	// PartTransitionDelay is the pause between finishing one part and
	// introducing the next.
	PartTransitionDelay = 3 * time.Second
)

// FluencyFlag reports whether a part-2 speaking duration falls short of the
// minimum. The boundary is exclusive: exactly the minimum is acceptable.
func FluencyFlag(speakingSeconds float64) bool {
	return speakingSeconds < Part2FluencyMinimum
}

// State is a read-only snapshot of the controller, published to the client
// after every observable change.
type State struct {
	Phase            Phase   `json:"phase"`
	SecondsRemaining int     `json:"secondsRemaining"`
	Part             int     `json:"part"`
	QuestionIndex    int     `json:"questionIndex"`
	Capturing        bool    `json:"capturing"`
	SpeakingSeconds  float64 `json:"speakingSeconds,omitempty"`
	ResultID         string  `json:"resultId,omitempty"`
	LastError        string  `json:"lastError,omitempty"`
}
