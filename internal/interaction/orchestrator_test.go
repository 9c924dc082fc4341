package interaction_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/luna/internal/capture"
	"github.com/MrWong99/luna/internal/intent"
	intentmock "github.com/MrWong99/luna/internal/intent/mock"
	"github.com/MrWong99/luna/internal/interaction"
	"github.com/MrWong99/luna/internal/journal"
	"github.com/MrWong99/luna/internal/notify"
	ttsmock "github.com/MrWong99/luna/pkg/provider/tts/mock"
)

type harness struct {
	orch     *interaction.Orchestrator
	proc     *interaction.Processor
	lis      *listener
	det      *detector
	pub      *publisher
	jl       *journalLog
	spk      *ttsmock.Speaker
	rec      *intentmock.Recognizer
	exec     *intentmock.Executor
	done     chan error
	cancel   context.CancelFunc
	timeout  time.Duration
	executor intent.Executor
}

type harnessOption func(*harness)

func withTimeout(d time.Duration) harnessOption { return func(h *harness) { h.timeout = d } }

func withExecutor(e intent.Executor) harnessOption { return func(h *harness) { h.executor = e } }

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		lis:     &listener{},
		det:     newDetector(),
		pub:     &publisher{},
		jl:      &journalLog{},
		spk:     &ttsmock.Speaker{},
		rec:     &intentmock.Recognizer{},
		exec:    &intentmock.Executor{},
		timeout: time.Hour,
	}
	h.executor = h.exec
	for _, o := range opts {
		o(h)
	}
	h.proc = interaction.NewProcessor(h.rec, h.executor,
		interaction.WithPollInterval(time.Millisecond),
		interaction.WithProcessorPublisher(h.pub),
		interaction.WithProcessorLogger(discard()),
	)
	h.orch = interaction.New(h.lis, h.det, h.proc,
		interaction.WithInactivityTimeout(h.timeout),
		interaction.WithGreeting(func() string { return "Good evening!" }),
		interaction.WithIntroduction("I'm Luna."),
		interaction.WithSpeaker(h.spk),
		interaction.WithPublisher(h.pub),
		interaction.WithJournal(h.jl),
		interaction.WithLogger(discard()),
	)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- h.orch.Run(ctx) }()
	waitFor(t, "listener start", h.lis.ready)
	t.Cleanup(func() { h.stop(t) })
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	if h.cancel == nil {
		return
	}
	h.cancel()
	h.cancel = nil
	select {
	case err := <-h.done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// hear injects a transcript and waits until the orchestrator has finished
// handling it. Transcripts are handled one at a time, so a blank transcript
// sent behind text reaches the detector only once text is fully handled.
func (h *harness) hear(t *testing.T, text string) {
	t.Helper()
	before := h.det.calls.Load()
	h.lis.say(text)
	h.lis.say("")
	waitFor(t, fmt.Sprintf("transcript %q handled", text), func() bool { return h.det.calls.Load() >= before+2 })
}

func (h *harness) wake(t *testing.T) {
	t.Helper()
	h.lis.say("hey luna")
	waitFor(t, "listening state", func() bool { return h.orch.State() == interaction.StateListeningCommands })
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[interaction.State]string{
		interaction.StateSleeping:          "sleeping",
		interaction.StateAwakeGreeting:     "awake_greeting",
		interaction.StateListeningCommands: "listening_commands",
		interaction.StateTerminated:        "terminated",
		interaction.State(9):               "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d) = %q, want %q", s, got, want)
		}
	}
}

func TestOrchestrator_WakeGreetsThenListens(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.start(t)
	if got := h.orch.State(); got != interaction.StateSleeping {
		t.Fatalf("initial state = %v", got)
	}

	h.wake(t)
	if got := h.spk.Spoken(); !slices.Equal(got, []string{"Good evening!", "I'm Luna."}) {
		t.Errorf("spoken = %v, want greeting then introduction", got)
	}
	if got := h.pub.count(notify.KindResponse); got != 2 {
		t.Errorf("response notifications = %d", got)
	}
	if !h.proc.Running() {
		t.Error("command intake not started")
	}
	if got := h.jl.kinds(); len(got) == 0 || got[0] != journal.KindWake {
		t.Errorf("journal = %v", got)
	}
}

func TestOrchestrator_IgnoresCommandsWhileSleeping(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.start(t)

	h.hear(t, "what time is it")
	h.hear(t, "goodbye luna")

	if h.orch.State() != interaction.StateSleeping {
		t.Errorf("state = %v", h.orch.State())
	}
	if h.rec.CallCount() != 0 || h.proc.Pending() != 0 {
		t.Errorf("command reached processor: calls=%d pending=%d", h.rec.CallCount(), h.proc.Pending())
	}
	if n := len(h.pub.all()); n != 0 {
		t.Errorf("notifications = %v", h.pub.all())
	}
}

func TestOrchestrator_CommandsWhileListening(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.start(t)
	h.wake(t)

	h.hear(t, "what time is it")
	waitFor(t, "command executed", func() bool { return len(h.exec.Executed()) == 1 })
	if got := h.pub.count(notify.KindTranscription); got != 1 {
		t.Errorf("transcriptions = %d", got)
	}
	waitFor(t, "reply", func() bool { return h.pub.count(notify.KindResponse) == 3 })
}

func TestOrchestrator_WakeWhileListeningIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.start(t)
	h.wake(t)

	h.hear(t, "hey luna")
	if h.orch.State() != interaction.StateListeningCommands {
		t.Errorf("state = %v", h.orch.State())
	}
	if got := len(h.spk.Spoken()); got != 2 {
		t.Errorf("greeting repeated: spoken %d sentences", got)
	}
	if h.rec.CallCount() != 0 {
		t.Error("wake phrase submitted as a command")
	}
}

func TestOrchestrator_TimeoutIgnoresCommandTraffic(t *testing.T) {
	t.Parallel()
	const timeout = 80 * time.Millisecond
	h := newHarness(t, withTimeout(timeout))
	h.start(t)

	woke := time.Now()
	h.wake(t)

	// Keep talking for the whole window; the timer must not be extended.
	for time.Since(woke) < timeout/2 {
		h.hear(t, "what time is it")
		time.Sleep(5 * time.Millisecond)
	}
	waitFor(t, "timeout sleep", func() bool { return h.orch.State() == interaction.StateSleeping })
	elapsed := time.Since(woke)
	if elapsed < timeout {
		t.Errorf("went to sleep after %v, before the %v timeout", elapsed, timeout)
	}
	if elapsed > timeout+500*time.Millisecond {
		t.Errorf("went to sleep after %v, long after the %v timeout", elapsed, timeout)
	}
	if h.proc.Running() {
		t.Error("command intake still running")
	}
	if got := h.pub.count(notify.KindAsleep); got != 1 {
		t.Errorf("asleep notifications = %d", got)
	}

	// Wake detection is active again.
	h.wake(t)
}

func TestOrchestrator_SleepPhraseBypassesTimer(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.start(t)
	h.wake(t)

	h.hear(t, "goodbye luna")
	if got := h.orch.State(); got != interaction.StateSleeping {
		t.Fatalf("state = %v, want sleeping", got)
	}
	if h.proc.Running() {
		t.Error("command intake still running")
	}
	if h.rec.CallCount() != 0 {
		t.Error("sleep phrase submitted as a command")
	}
	if got := h.pub.count(notify.KindAsleep); got != 1 {
		t.Errorf("asleep notifications = %d", got)
	}
	kinds := h.jl.kinds()
	if len(kinds) != 2 || kinds[1] != journal.KindSleep {
		t.Errorf("journal = %v", kinds)
	}
}

func TestOrchestrator_SleepIntent(t *testing.T) {
	t.Parallel()
	var orch *interaction.Orchestrator
	d := intent.NewDispatcher(intent.WithSleepHook(func() { orch.RequestSleep() }))
	h := newHarness(t, withExecutor(d))
	h.rec.Kind = intent.KindSleep
	orch = h.orch
	h.start(t)
	h.wake(t)

	h.hear(t, "that's all")
	waitFor(t, "sleep after intent", func() bool { return h.orch.State() == interaction.StateSleeping })
	if got := h.pub.count(notify.KindAsleep); got != 1 {
		t.Errorf("asleep notifications = %d", got)
	}
}

func TestOrchestrator_RequestSleepWhileAsleepIsNoop(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.start(t)
	h.orch.RequestSleep()
	h.orch.RequestSleep()
	h.hear(t, "hello")
	if got := h.pub.count(notify.KindAsleep); got != 0 {
		t.Errorf("asleep notifications = %d", got)
	}
}

func TestOrchestrator_ResourceUnavailable(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.lis.err = fmt.Errorf("%w: no input device", capture.ErrResourceUnavailable)

	err := h.orch.Run(context.Background())
	if !errors.Is(err, capture.ErrResourceUnavailable) {
		t.Fatalf("Run error = %v", err)
	}
	if h.orch.State() != interaction.StateTerminated {
		t.Errorf("state = %v", h.orch.State())
	}
}

func TestOrchestrator_RunTwice(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.start(t)
	if err := h.orch.Run(context.Background()); !errors.Is(err, interaction.ErrAlreadyRunning) {
		t.Errorf("second Run = %v", err)
	}
}

func TestOrchestrator_ShutdownWhileAwake(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.start(t)
	h.wake(t)

	h.stop(t)
	if got := h.orch.State(); got != interaction.StateTerminated {
		t.Errorf("state = %v", got)
	}
	if h.proc.Running() {
		t.Error("processor still running")
	}
	if h.lis.stops() != 1 {
		t.Errorf("listener stopped %d times", h.lis.stops())
	}
}

func TestOrchestrator_HandleTranscriptNeverBlocks(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	done := make(chan struct{})
	go func() {
		for range interaction.DefaultTranscriptBuffer * 3 {
			h.orch.HandleTranscript("hey luna")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("HandleTranscript blocked without a running orchestrator")
	}
}
