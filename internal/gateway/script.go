package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fluentprep/speaking-gateway/internal/exam"
	"github.com/fluentprep/speaking-gateway/internal/playback"
	"github.com/fluentprep/speaking-gateway/internal/synthesis"
)

// scriptText is the raw examiner material for one topic before synthesis.
// Scripted segments become pre-synthesized clips; questions stay as text
// directives for the live conversation channel.
type scriptText struct {
	greeting       []string
	part1Intro     []string
	part1Questions []string
	part2Intro     []string
	part2CueCard   string
	part2Begin     []string
	part3Intro     []string
	part3Questions []string
	part3Times     []time.Duration
	closing        string
}

const defaultTopic = "hometown"

var scriptBank = map[string]scriptText{
	"hometown": {
		greeting: []string{
			"Good afternoon. My name is your examiner for today's speaking test.",
			"Could you tell me your full name, please? And could you confirm where you are from?",
		},
		part1Intro: []string{
			"Thank you. In this first part, I'd like to ask you some questions about yourself.",
			"Let's talk about where you live.",
		},
		part1Questions: []string{
			"Can you describe the town or city where you grew up?",
			"What do you like most about living there?",
			"Has your hometown changed much since you were a child?",
			"Would you like to live there in the future? Why or why not?",
		},
		part2Intro: []string{
			"Now, I'm going to give you a topic, and I'd like you to talk about it for one to two minutes.",
			"Before you talk, you'll have one minute to think about what you're going to say. You can make some notes if you wish.",
		},
		part2CueCard: "Describe a place in your hometown that you enjoy visiting. You should say: where it is, what you do there, who you go there with, and explain why you enjoy visiting this place.",
		part2Begin: []string{
			"All right? Remember you have one to two minutes for this, so don't worry if I stop you. Please start speaking now.",
		},
		part3Intro: []string{
			"Thank you. We've been talking about a place in your hometown, and I'd like to discuss with you one or two more general questions related to this.",
		},
		part3Questions: []string{
			"How do public spaces in cities affect the quality of life of residents?",
			"Do you think modern city planning pays enough attention to community spaces?",
			"In what ways might towns and cities change over the next fifty years?",
		},
		part3Times: []time.Duration{0, 0, 60 * time.Second},
		closing:    "Thank the candidate, tell them the speaking test is now finished, and say goodbye.",
	},
	"work": {
		greeting: []string{
			"Good afternoon. My name is your examiner for today's speaking test.",
			"Could you tell me your full name, please? And what shall I call you?",
		},
		part1Intro: []string{
			"Thank you. In this first part, I'd like to ask you some questions about yourself.",
			"Let's talk about what you do.",
		},
		part1Questions: []string{
			"Do you work or are you a student?",
			"What do you find most interesting about your work or studies?",
			"Is there anything you would like to change about your typical day?",
			"Did you ever consider a different career path?",
		},
		part2Intro: []string{
			"Now, I'm going to give you a topic, and I'd like you to talk about it for one to two minutes.",
			"Before you talk, you'll have one minute to think about what you're going to say. You can make some notes if you wish.",
		},
		part2CueCard: "Describe a skill that is important for your work or studies. You should say: what the skill is, how you learned it, how often you use it, and explain why it is important.",
		part2Begin: []string{
			"All right? Remember you have one to two minutes for this, so don't worry if I stop you. Please start speaking now.",
		},
		part3Intro: []string{
			"Thank you. We've been talking about an important skill, and I'd like to discuss with you one or two more general questions related to this.",
		},
		part3Questions: []string{
			"Which skills do you think will be most valuable in the workplace of the future?",
			"Should schools focus more on practical skills than academic knowledge?",
			"How has technology changed the way people learn new skills?",
		},
		part3Times: []time.Duration{0, 0, 60 * time.Second},
		closing:    "Thank the candidate, tell them the speaking test is now finished, and say goodbye.",
	},
}

// scriptFor resolves a requested topic against the bank, falling back to the
// default topic for anything unknown.
func scriptFor(topic string) (string, scriptText) {
	if text, ok := scriptBank[topic]; ok {
		return topic, text
	}
	return defaultTopic, scriptBank[defaultTopic]
}

// ScriptBuilder turns a topic's raw material into a ready Script by
// synthesizing each scripted examiner segment into an audio clip.
type ScriptBuilder struct {
	synth      *synthesis.Client
	sampleRate int
	logger     zerolog.Logger
}

func NewScriptBuilder(synth *synthesis.Client, sampleRate int, logger zerolog.Logger) *ScriptBuilder {
	return &ScriptBuilder{
		synth:      synth,
		sampleRate: sampleRate,
		logger:     logger.With().Str("component", "script_builder").Logger(),
	}
}

// Build synthesizes the scripted segments for the requested topic. A failed
// segment fails the whole build; the caller reports the error and the client
// may request a fresh start.
func (b *ScriptBuilder) Build(ctx context.Context, topic, difficulty string) (*exam.Script, error) {
	resolved, text := scriptFor(topic)
	if resolved != topic && topic != "" {
		b.logger.Warn().
			Str("requested", topic).
			Str("resolved", resolved).
			Msg("Unknown topic, using default")
	}

	script := &exam.Script{
		Topic:        resolved,
		Difficulty:   difficulty,
		Part2CueCard: text.part2CueCard,
		Closing:      text.closing,
	}

	var err error
	if script.Greeting, err = b.clips(ctx, "greeting", text.greeting); err != nil {
		return nil, err
	}
	if script.Part1Intro, err = b.clips(ctx, "part1-intro", text.part1Intro); err != nil {
		return nil, err
	}
	if script.Part2Intro, err = b.clips(ctx, "part2-intro", text.part2Intro); err != nil {
		return nil, err
	}
	if script.Part2Begin, err = b.clips(ctx, "part2-begin", text.part2Begin); err != nil {
		return nil, err
	}
	if script.Part3Intro, err = b.clips(ctx, "part3-intro", text.part3Intro); err != nil {
		return nil, err
	}

	for _, q := range text.part1Questions {
		script.Part1Questions = append(script.Part1Questions, exam.Question{Directive: q})
	}
	for i, q := range text.part3Questions {
		question := exam.Question{Directive: q}
		if i < len(text.part3Times) {
			question.AnswerTime = text.part3Times[i]
		}
		script.Part3Questions = append(script.Part3Questions, question)
	}

	b.logger.Info().
		Str("topic", resolved).
		Int("part1_questions", len(script.Part1Questions)).
		Int("part3_questions", len(script.Part3Questions)).
		Msg("Script prepared")
	return script, nil
}

func (b *ScriptBuilder) clips(ctx context.Context, prefix string, texts []string) ([]playback.AudioClip, error) {
	clips := make([]playback.AudioClip, 0, len(texts))
	for i, text := range texts {
		key := fmt.Sprintf("%s-%d", prefix, i)
		resp, err := b.synth.Synthesize(ctx, key, text)
		if err != nil {
			return nil, fmt.Errorf("failed to synthesize %s: %w", key, err)
		}
		rate := resp.SampleRate
		if rate <= 0 {
			rate = b.sampleRate
		}
		clips = append(clips, playback.AudioClip{
			Key:         key,
			Text:        text,
			AudioBase64: resp.AudioBase64,
			SampleRate:  rate,
		})
	}
	return clips, nil
}
