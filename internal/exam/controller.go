package exam

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fluentprep/speaking-gateway/internal/capture"
	"github.com/fluentprep/speaking-gateway/internal/conversation"
	"github.com/fluentprep/speaking-gateway/internal/evaluation"
	"github.com/fluentprep/speaking-gateway/internal/observability"
	"github.com/fluentprep/speaking-gateway/internal/playback"
)

// Speaker plays examiner clips to the candidate. Implemented by
// playback.Queue in production.
type Speaker interface {
	PlayClips(ctx context.Context, clips []playback.AudioClip, retryCount int) error
	Stop()
}

// Submitter sends the finished attempt for evaluation.
type Submitter interface {
	Submit(ctx context.Context, req *evaluation.SubmissionRequest) (string, error)
}

// Config holds the per-attempt controller settings.
type Config struct {
	TestID         string
	ClipRetryCount int
	SubmitTimeout  time.Duration
}

// Deps are the controller's collaborators.
type Deps struct {
	Channel   conversation.Channel
	Speaker   Speaker
	Recorder  *capture.Recorder
	Submitter Submitter
	Metrics   *observability.Metrics
	Notify    func(State)
	Logger    zerolog.Logger
}

type commandKind int

const (
	cmdAdvance commandKind = iota
	cmdReady
	cmdEnd
	cmdTick
	cmdSpeechDone
	cmdChannelEvent
	cmdSubmitResult
)

// command is one discrete message into the controller loop. Timer ticks and
// playback completions carry the generation they were armed under so stale
// ones are ignored.
type command struct {
	kind     commandKind
	gen      int
	event    conversation.Event
	resultID string
	err      error
	rollback Phase
}

// Controller drives one speaking-test attempt through its thirteen phases.
// All mutable state is owned by a single loop goroutine; public methods post
// commands and read snapshots.
type Controller struct {
	cfg    Config
	script *Script

	channel   conversation.Channel
	speaker   Speaker
	recorder  *capture.Recorder
	submitter Submitter
	metrics   *observability.Metrics
	notify    func(State)
	logger    zerolog.Logger

	commands chan command
	done     chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	closeOnce sync.Once

	// Loop-owned state. Never touched outside the run goroutine once
	// Start returns.
	phase           Phase
	phaseGen        int
	timer           *time.Timer
	timerGen        int
	deadline        time.Time
	questionIndex   int
	part2Started    bool
	speakingSeconds float64
	pending         []*capture.Finalization
	resultID        string
	lastError       string

	// timerScale, when set, rewrites timer durations. Tests use it to
	// avoid real exam-length waits.
	timerScale func(time.Duration) time.Duration

	mu       sync.Mutex
	snapshot State
}

func NewController(cfg Config, script *Script, deps Deps) *Controller {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 90 * time.Second
	}

	return &Controller{
		cfg:       cfg,
		script:    script,
		channel:   deps.Channel,
		speaker:   deps.Speaker,
		recorder:  deps.Recorder,
		submitter: deps.Submitter,
		metrics:   deps.Metrics,
		notify:    deps.Notify,
		logger:    deps.Logger.With().Str("component", "exam").Str("test_id", cfg.TestID).Logger(),
		commands:  make(chan command, 64),
		done:      make(chan struct{}),
		phase:     PhaseConnecting,
	}
}

// Start connects the conversation channel and begins the attempt. A
// connection failure is fatal: the error is returned and the test does not
// start.
func (c *Controller) Start(ctx context.Context) error {
	c.runCtx, c.runCancel = context.WithCancel(ctx)

	c.publish()

	if err := c.channel.Connect(ctx); err != nil {
		c.runCancel()
		return fmt.Errorf("cannot start test: %w", err)
	}

	if c.metrics != nil {
		c.metrics.RecordTestStart()
	}

	go c.pumpEvents()
	go c.run()

	c.logger.Info().Msg("Test attempt started")
	return nil
}

// Advance moves past a phase that waits on the candidate: leaving the
// identity check, or skipping the rest of part 1's questions.
func (c *Controller) Advance() {
	c.post(command{kind: cmdAdvance})
}

// Ready signals that the candidate wants to begin the part-2 monologue
// before the preparation countdown elapses.
func (c *Controller) Ready() {
	c.post(command{kind: cmdReady})
}

// EndTest finishes the attempt from any interactive phase and submits it.
// After a failed submission it can be called again to resubmit.
func (c *Controller) EndTest() {
	c.post(command{kind: cmdEnd})
}

// Snapshot returns the latest published state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// Done is closed when the attempt reaches its terminal phase or is closed.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Close tears the attempt down without submitting. Used when the client
// disconnects mid-test.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		if c.runCancel != nil {
			c.runCancel()
		}
		c.speaker.Stop()
		c.recorder.StopCapture()
		c.channel.Disconnect()
	})
}

func (c *Controller) pumpEvents() {
	for {
		select {
		case <-c.runCtx.Done():
			return
		case event := <-c.channel.Events():
			c.post(command{kind: cmdChannelEvent, event: event})
		}
	}
}

func (c *Controller) post(cmd command) {
	select {
	case c.commands <- cmd:
	case <-c.done:
	}
}

func (c *Controller) run() {
	defer close(c.done)

	for {
		select {
		case <-c.runCtx.Done():
			c.clearTimer()
			if c.metrics != nil && c.phase != PhaseDone {
				c.metrics.RecordTestEnd()
			}
			return
		case cmd := <-c.commands:
			c.handle(cmd)
			if c.phase == PhaseDone {
				if c.metrics != nil {
					c.metrics.RecordTestEnd()
				}
				c.runCancel()
				return
			}
		}
	}
}

func (c *Controller) handle(cmd command) {
	switch cmd.kind {
	case cmdChannelEvent:
		c.handleChannelEvent(cmd.event)
	case cmdAdvance:
		c.handleAdvance()
	case cmdReady:
		if c.phase == PhasePart2Prep {
			c.enterPart2Speaking()
		}
	case cmdEnd:
		if c.phase.Interactive() {
			c.endSequence()
		}
	case cmdTick:
		if cmd.gen != c.timerGen {
			return
		}
		c.timer = nil
		c.deadline = time.Time{}
		c.handleTimeUp()
	case cmdSpeechDone:
		if cmd.gen != c.phaseGen {
			return
		}
		c.handleSpeechDone()
	case cmdSubmitResult:
		c.handleSubmitResult(cmd)
	}
}

func (c *Controller) handleChannelEvent(event conversation.Event) {
	switch event.Type {
	case conversation.EventConnected:
		if c.phase == PhaseConnecting {
			c.transition(PhaseIdentityCheck)
			c.speakClips(c.script.Greeting)
		}
	case conversation.EventTranscriptFinal:
		c.recorder.AppendTranscript(event.Text)
	case conversation.EventTranscriptPartial:
		// Interim transcripts are not accumulated
	case conversation.EventSpeechStarted:
		c.logger.Debug().Msg("Examiner turn started")
	case conversation.EventSpeechFinished:
		c.handleExaminerTurnDone()
	case conversation.EventDisconnected:
		c.setError("conversation channel dropped, reconnecting")
	case conversation.EventError:
		if event.Err != nil {
			c.setError(event.Err.Error())
		}
	}
}

func (c *Controller) handleAdvance() {
	switch c.phase {
	case PhaseIdentityCheck:
		c.enterPart1Intro()
	case PhasePart1Questions, PhasePart1QuestionRecording:
		c.stopQuestionCapture()
		c.finishPart1()
	case PhasePart2Prep:
		c.enterPart2Speaking()
	}
}

// handleExaminerTurnDone is the explicit completion signal for a live
// examiner question; the per-phase fallback timer covers endpoints that
// never send one.
func (c *Controller) handleExaminerTurnDone() {
	switch c.phase {
	case PhasePart1Questions:
		c.enterAnswerRecording(PhasePart1QuestionRecording, c.part1Question().answerTime(Part1AnswerTime, Part1AnswerTime))
	case PhasePart3Questions:
		c.enterAnswerRecording(PhasePart3QuestionRecording, c.part3Question().answerTime(Part3AnswerTime, Part3AnswerTimeMax))
	}
}

func (c *Controller) handleTimeUp() {
	switch c.phase {
	case PhasePart1Questions:
		// No completion signal arrived; assume the examiner finished
		c.handleExaminerTurnDone()
	case PhasePart1QuestionRecording:
		c.stopQuestionCapture()
		c.questionIndex++
		c.enterPart1Questions()
	case PhasePart2Intro:
		c.enterPart2Prep()
	case PhasePart2Prep:
		c.enterPart2Speaking()
	case PhasePart2Speaking:
		if !c.part2Started {
			c.beginPart2Monologue()
		} else {
			c.finishPart2()
		}
	case PhasePart3Intro:
		// Transition pause elapsed; introduce the discussion
		if !c.speakClips(c.script.Part3Intro) {
			c.enterPart3Questions()
		}
	case PhasePart3Questions:
		c.handleExaminerTurnDone()
	case PhasePart3QuestionRecording:
		c.stopQuestionCapture()
		c.questionIndex++
		c.enterPart3Questions()
	}
}

func (c *Controller) handleSpeechDone() {
	switch c.phase {
	case PhaseIdentityCheck:
		// Greeting finished; wait for the candidate to proceed
	case PhasePart1Intro:
		c.enterPart1Questions()
	case PhasePart2Intro:
		c.startTimer(PostSpeechDelay)
	case PhasePart2Speaking:
		if !c.part2Started {
			c.beginPart2Monologue()
		}
	case PhasePart3Intro:
		c.enterPart3Questions()
	}
}

func (c *Controller) enterPart1Intro() {
	c.transition(PhasePart1Intro)
	c.questionIndex = 0
	c.recorder.BeginPart(1, false)
	if !c.speakClips(c.script.Part1Intro) {
		c.enterPart1Questions()
	}
}

func (c *Controller) enterPart1Questions() {
	if c.questionIndex >= len(c.script.Part1Questions) {
		c.finishPart1()
		return
	}
	c.enterQuestions(PhasePart1Questions, c.part1Question())
}

// enterQuestions starts one live examiner question: capture and listening
// come up, the directive goes out, and a fallback timer covers a missing
// speech-finished signal.
func (c *Controller) enterQuestions(phase Phase, question Question) {
	c.transition(phase)

	if err := c.recorder.StartCapture(c.runCtx); err != nil {
		// Non-fatal: the phase stays active and the candidate can retry
		c.setError(fmt.Sprintf("microphone unavailable: %v", err))
	}
	if err := c.channel.StartListening(); err != nil {
		c.setError(fmt.Sprintf("transcription unavailable: %v", err))
	}
	if err := c.channel.SendText(question.Directive); err != nil {
		c.setError(fmt.Sprintf("examiner turn failed: %v", err))
	}

	c.startTimer(ExaminerTurnFallback)
}

func (c *Controller) enterAnswerRecording(phase Phase, answerTime time.Duration) {
	c.transition(phase)
	c.startTimer(answerTime)
}

func (c *Controller) stopQuestionCapture() {
	if err := c.channel.StopListening(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to stop listening")
	}
	c.recorder.StopCapture()
}

func (c *Controller) finishPart1() {
	if fin := c.recorder.FinalizePart(); fin != nil {
		c.pending = append(c.pending, fin)
	}
	c.enterPart2Intro()
}

func (c *Controller) enterPart2Intro() {
	c.transition(PhasePart2Intro)
	if !c.speakClips(c.script.Part2Intro) {
		c.startTimer(PostSpeechDelay)
	}
}

func (c *Controller) enterPart2Prep() {
	c.transition(PhasePart2Prep)
	c.recorder.BeginPart(2, true)
	c.startTimer(Part2PrepTime)
}

func (c *Controller) enterPart2Speaking() {
	c.transition(PhasePart2Speaking)
	if !c.speakClips(c.script.Part2Begin) {
		// No begin prompt; give the candidate the fallback pause
		c.startTimer(PostSpeechDelay)
	}
}

func (c *Controller) beginPart2Monologue() {
	c.part2Started = true

	if err := c.recorder.StartCapture(c.runCtx); err != nil {
		c.setError(fmt.Sprintf("microphone unavailable: %v", err))
	}
	if err := c.channel.StartListening(); err != nil {
		c.setError(fmt.Sprintf("transcription unavailable: %v", err))
	}

	c.startTimer(Part2SpeakingTime)
	c.publish()
}

func (c *Controller) finishPart2() {
	c.stopQuestionCapture()
	c.speakingSeconds = c.recorder.SpeakingSeconds()

	if fin := c.recorder.FinalizePart(); fin != nil {
		c.pending = append(c.pending, fin)
	}

	c.logger.Info().
		Float64("speaking_seconds", c.speakingSeconds).
		Bool("fluency_flag", FluencyFlag(c.speakingSeconds)).
		Msg("Part 2 monologue finished")

	c.transition(PhasePart3Intro)
	c.questionIndex = 0
	c.recorder.BeginPart(3, false)
	c.startTimer(PartTransitionDelay)
}

func (c *Controller) enterPart3Questions() {
	if c.questionIndex >= len(c.script.Part3Questions) {
		c.endSequence()
		return
	}
	c.enterQuestions(PhasePart3Questions, c.part3Question())
}

// endSequence finishes the attempt: everything stops, the last part is
// finalized, the channel is told goodbye and closed, and submission runs
// asynchronously so the loop stays responsive.
func (c *Controller) endSequence() {
	rollback := c.phase

	c.clearTimer()
	c.speaker.Stop()
	c.stopQuestionCapture()

	if c.phase == PhasePart2Speaking && c.part2Started {
		c.speakingSeconds = c.recorder.SpeakingSeconds()
	}

	if fin := c.recorder.FinalizePart(); fin != nil {
		c.pending = append(c.pending, fin)
	}

	if c.script.Closing != "" {
		if err := c.channel.SendText(c.script.Closing); err != nil {
			c.logger.Debug().Err(err).Msg("Failed to send closing notice")
		}
	}
	if err := c.channel.Disconnect(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to disconnect conversation channel")
	}

	c.transition(PhaseSubmitting)

	gen := c.phaseGen
	pending := make([]*capture.Finalization, len(c.pending))
	copy(pending, c.pending)
	speakingSeconds := c.speakingSeconds

	go c.submit(gen, rollback, pending, speakingSeconds)
}

// submit awaits every pending part finalization, assembles the evaluation
// request, and posts the outcome back to the loop.
func (c *Controller) submit(gen int, rollback Phase, pending []*capture.Finalization, speakingSeconds float64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SubmitTimeout)
	defer cancel()

	recordings := make([]capture.Recording, 0, len(pending))
	for _, fin := range pending {
		rec, err := fin.Await(ctx)
		if err != nil {
			// A part with no usable audio is skipped, not fatal
			c.logger.Warn().Err(err).Int("part", rec.PartNumber).Msg("Part recording unusable, skipping")
			continue
		}
		recordings = append(recordings, rec)
	}

	sort.Slice(recordings, func(i, j int) bool {
		return recordings[i].PartNumber < recordings[j].PartNumber
	})

	req := &evaluation.SubmissionRequest{
		TestID:                c.cfg.TestID,
		Topic:                 c.script.Topic,
		Difficulty:            c.script.Difficulty,
		Transcripts:           make(map[int]string),
		Part2SpeakingDuration: speakingSeconds,
		FluencyFlag:           FluencyFlag(speakingSeconds),
	}
	for _, rec := range recordings {
		req.PartAudios = append(req.PartAudios, evaluation.PartAudio{
			PartNumber:  rec.PartNumber,
			AudioBase64: rec.AudioBase64,
			Duration:    rec.Duration,
		})
		if rec.Transcript != "" {
			req.Transcripts[rec.PartNumber] = rec.Transcript
		}
	}

	resultID, err := c.submitter.Submit(ctx, req)
	c.post(command{kind: cmdSubmitResult, gen: gen, resultID: resultID, err: err, rollback: rollback})
}

func (c *Controller) handleSubmitResult(cmd command) {
	if c.phase != PhaseSubmitting || cmd.gen != c.phaseGen {
		return
	}

	if cmd.err != nil {
		// Recoverable: captured audio is retained and the candidate can
		// end the test again to resubmit
		c.logger.Error().Err(cmd.err).Msg("Submission failed, rolling back")
		c.setError(fmt.Sprintf("submission failed: %v", cmd.err))
		c.transition(cmd.rollback)
		return
	}

	c.resultID = cmd.resultID
	c.transition(PhaseDone)
	c.logger.Info().Str("result_id", cmd.resultID).Msg("Test attempt complete")
}

func (c *Controller) part1Question() Question {
	if c.questionIndex < len(c.script.Part1Questions) {
		return c.script.Part1Questions[c.questionIndex]
	}
	return Question{}
}

func (c *Controller) part3Question() Question {
	if c.questionIndex < len(c.script.Part3Questions) {
		return c.script.Part3Questions[c.questionIndex]
	}
	return Question{}
}

// speakClips plays examiner clips via the playback queue. Returns false when
// there is nothing to play; completion is delivered as a message carrying
// the phase generation it was started under.
func (c *Controller) speakClips(clips []playback.AudioClip) bool {
	if len(clips) == 0 {
		return false
	}

	gen := c.phaseGen
	go func() {
		if err := c.speaker.PlayClips(c.runCtx, clips, c.cfg.ClipRetryCount); err != nil {
			c.logger.Warn().Err(err).Msg("Examiner clip playback failed")
		}
		c.post(command{kind: cmdSpeechDone, gen: gen})
	}()
	return true
}

// transition moves to a new phase. The previous phase's timer is always
// cleared first, so at most one timer exists at any moment.
func (c *Controller) transition(to Phase) {
	c.clearTimer()
	c.phaseGen++
	c.part2Started = false

	from := c.phase
	c.phase = to

	if c.metrics != nil {
		c.metrics.RecordPhaseTransition(string(to))
	}
	c.logger.Info().Str("from", string(from)).Str("to", string(to)).Msg("Phase transition")

	c.publish()
}

func (c *Controller) startTimer(d time.Duration) {
	if c.timerScale != nil {
		d = c.timerScale(d)
	}
	c.clearTimer()
	c.timerGen++
	gen := c.timerGen
	c.deadline = time.Now().Add(d)
	c.timer = time.AfterFunc(d, func() {
		c.post(command{kind: cmdTick, gen: gen})
	})
	c.publish()
}

func (c *Controller) clearTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
	c.deadline = time.Time{}
}

func (c *Controller) setError(msg string) {
	c.lastError = msg
	if c.metrics != nil {
		c.metrics.RecordError("recoverable", "exam")
	}
	c.publish()
}

func (c *Controller) publish() {
	remaining := 0
	if !c.deadline.IsZero() {
		if d := time.Until(c.deadline); d > 0 {
			remaining = int(d.Round(time.Second) / time.Second)
		}
	}

	state := State{
		Phase:            c.phase,
		SecondsRemaining: remaining,
		Part:             c.phase.Part(),
		QuestionIndex:    c.questionIndex,
		Capturing:        c.recorder.Capturing(),
		SpeakingSeconds:  c.speakingSeconds,
		ResultID:         c.resultID,
		LastError:        c.lastError,
	}

	c.mu.Lock()
	c.snapshot = state
	c.mu.Unlock()

	if c.notify != nil {
		c.notify(state)
	}
}
