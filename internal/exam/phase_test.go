package exam

import (
	"testing"
	"time"
)

func TestFluencyFlag_Boundary(t *testing.T) {
	tests := []struct {
		name     string
		seconds  float64
		expected bool
	}{
		{"well under minimum", 30.0, true},
		{"just under minimum", 79.9, true},
		{"exactly minimum", 80.0, false},
		{"just over minimum", 80.1, false},
		{"full monologue", 120.0, false},
		{"no speech", 0.0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FluencyFlag(tt.seconds); got != tt.expected {
				t.Errorf("FluencyFlag(%v) = %v, expected %v", tt.seconds, got, tt.expected)
			}
		})
	}
}

func TestPhase_Interactive(t *testing.T) {
	interactive := []Phase{
		PhaseIdentityCheck, PhasePart1Intro, PhasePart1Questions,
		PhasePart1QuestionRecording, PhasePart2Intro, PhasePart2Prep,
		PhasePart2Speaking, PhasePart3Intro, PhasePart3Questions,
		PhasePart3QuestionRecording,
	}
	for _, p := range interactive {
		if !p.Interactive() {
			t.Errorf("Expected %s to be interactive", p)
		}
	}

	for _, p := range []Phase{PhaseConnecting, PhaseSubmitting, PhaseDone} {
		if p.Interactive() {
			t.Errorf("Expected %s to not be interactive", p)
		}
	}
}

func TestPhase_Part(t *testing.T) {
	tests := []struct {
		phase Phase
		part  int
	}{
		{PhaseConnecting, 0},
		{PhaseIdentityCheck, 0},
		{PhasePart1Intro, 1},
		{PhasePart1QuestionRecording, 1},
		{PhasePart2Prep, 2},
		{PhasePart2Speaking, 2},
		{PhasePart3Questions, 3},
		{PhaseSubmitting, 0},
		{PhaseDone, 0},
	}

	for _, tt := range tests {
		if got := tt.phase.Part(); got != tt.part {
			t.Errorf("%s.Part() = %d, expected %d", tt.phase, got, tt.part)
		}
	}
}

func TestQuestion_AnswerTime(t *testing.T) {
	tests := []struct {
		name     string
		override time.Duration
		expected time.Duration
	}{
		{"default when unset", 0, Part3AnswerTime},
		{"override within bounds", 50 * time.Second, 50 * time.Second},
		{"override clamped to max", 90 * time.Second, Part3AnswerTimeMax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := Question{Directive: "discuss", AnswerTime: tt.override}
			if got := q.answerTime(Part3AnswerTime, Part3AnswerTimeMax); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}
