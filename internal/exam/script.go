package exam

import (
	"time"

	"github.com/fluentprep/speaking-gateway/internal/playback"
)

// Question is one examiner question: the directive sent to the conversation
// channel to have it spoken, plus an optional answer-time override for part-3
// discussion questions.
type Question struct {
	Directive  string
	AnswerTime time.Duration
}

// answerTime returns the question's countdown, clamped to the part's policy.
func (q Question) answerTime(defaultTime, maxTime time.Duration) time.Duration {
	if q.AnswerTime <= 0 {
		return defaultTime
	}
	if q.AnswerTime > maxTime {
		return maxTime
	}
	return q.AnswerTime
}

// Script is the prepared material for one test attempt: pre-synthesized
// examiner clips for the scripted segments and directives for the live
// question turns.
type Script struct {
	Topic      string
	Difficulty string

	Greeting       []playback.AudioClip
	Part1Intro     []playback.AudioClip
	Part1Questions []Question
	Part2Intro     []playback.AudioClip
	Part2CueCard   string
	Part2Begin     []playback.AudioClip
	Part3Intro     []playback.AudioClip
	Part3Questions []Question
	Closing        string
}
