package agents

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	live "github.com/bt-bridge/worldsend-live"
	"github.com/bt-bridge/worldsend-live/game"
	"github.com/bt-bridge/worldsend-live/judge"
	"github.com/bt-bridge/worldsend-live/settings"
	"github.com/bt-bridge/worldsend-live/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeJudge struct {
	mu       sync.Mutex
	verdicts []judge.Judgment
	requests []judge.Request
}

func (f *fakeJudge) Judge(_ context.Context, req judge.Request) judge.Judgment {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.verdicts) == 0 {
		return judge.SafeDefault()
	}
	v := f.verdicts[0]
	f.verdicts = f.verdicts[1:]
	return v
}

func (f *fakeJudge) push(v ...judge.Judgment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verdicts = append(f.verdicts, v...)
}

type fakeLive struct {
	mu       sync.Mutex
	connects []live.ConnectParams
	closes   int
	active   bool
}

func (f *fakeLive) Connect(_ context.Context, p live.ConnectParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, p)
	f.active = true
	return nil
}

func (f *fakeLive) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.active = false
}

func (f *fakeLive) LinkActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeLive) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type fixture struct {
	agent *TrialAgent
	judge *fakeJudge
	live  *fakeLive
	out   *syncBuffer
}

func newFixture(t *testing.T, cfg TrialConfig) *fixture {
	t.Helper()
	logger := shared.NewNopLogger()
	out := &syncBuffer{}
	printer, err := shared.NewPrinter("  ", shared.NewWriteCloser(out))
	require.NoError(t, err)
	manager, err := settings.NewManager(logger, settings.NewMemoryStore())
	require.NoError(t, err)
	manager.Load(context.Background())

	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Hour
	}
	f := &fixture{judge: &fakeJudge{}, live: &fakeLive{}, out: out}
	f.agent, err = NewTrialAgent(context.Background(), logger, printer, game.NewStore(game.NewState()), manager, f.judge, cfg)
	require.NoError(t, err)
	f.agent.AttachLive(f.live)
	t.Cleanup(func() { _ = f.agent.Close() })
	return f
}

func (f *fixture) play(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.agent.Handle(ctx, "/language de"))
	require.NoError(t, f.agent.Handle(ctx, "/difficulty elite"))
	require.NoError(t, f.agent.Handle(ctx, "/path the rebel"))
	require.True(t, f.agent.Game().Snapshot().Playing())
}

func (f *fixture) setXP(t *testing.T, xp int) {
	t.Helper()
	_, err := f.agent.Settings().Update(context.Background(), func(s settings.Settings) (settings.Settings, error) {
		s.XP = xp
		return s, nil
	})
	require.NoError(t, err)
}

func TestTrialFlowConnectsLive(t *testing.T) {
	f := newFixture(t, TrialConfig{LiveEnabled: true, LiveModel: "m"})
	f.play(t)

	st := f.agent.Game().Snapshot()
	assert.Equal(t, "de", st.Language.Code)
	assert.Equal(t, game.Elite, st.Difficulty)
	assert.Equal(t, game.Rebel, st.Path)
	assert.Equal(t, 30, st.TimeLeft)
	assert.True(t, f.agent.Countdown().Running())

	require.Len(t, f.live.connects, 1)
	assert.Equal(t, live.ConnectParams{
		Persona:    game.Inquisitor,
		Path:       game.Rebel,
		Difficulty: game.Elite,
		Language:   st.Language,
	}, f.live.connects[0])
	assert.Contains(t, f.out.String(), "Live Setup")
	assert.Contains(t, f.out.String(), "models/m")
}

func TestTrialWithoutLive(t *testing.T) {
	f := newFixture(t, TrialConfig{})
	f.play(t)
	assert.Empty(t, f.live.connects)
	assert.Contains(t, f.out.String(), "Text protocol active")
}

func TestTrialRejectsOutOfOrderCommands(t *testing.T) {
	f := newFixture(t, TrialConfig{})
	ctx := context.Background()

	assert.ErrorIs(t, f.agent.Handle(ctx, "/teleport"), shared.ErrUnknownCommand)
	assert.ErrorIs(t, f.agent.Handle(ctx, "hello"), shared.ErrNotPlaying)
	assert.ErrorIs(t, f.agent.Handle(ctx, "/surrender"), shared.ErrNotPlaying)
	assert.Error(t, f.agent.Handle(ctx, "/language xx"))
	assert.Error(t, f.agent.Handle(ctx, "/path rebel"))
	assert.Equal(t, game.StatusStart, f.agent.Game().Snapshot().Status)

	require.NoError(t, f.agent.Handle(ctx, "/language fr"))
	require.NoError(t, f.agent.Handle(ctx, "/back"))
	assert.Equal(t, game.StatusStart, f.agent.Game().Snapshot().Status)
	assert.NoError(t, f.agent.Handle(ctx, "   "))
}

func TestCleanTurnAdvancesAndAwardsXP(t *testing.T) {
	f := newFixture(t, TrialConfig{})
	f.play(t)
	f.judge.push(judge.Judgment{Reply: "ACCEPTABLE.", TensionIncrease: 7})

	verdict, err := f.agent.Submit(context.Background(), "Ich bin hier.")
	require.NoError(t, err)
	assert.Equal(t, "ACCEPTABLE.", verdict.Reply)

	st := f.agent.Game().Snapshot()
	assert.Equal(t, 2, st.Turn)
	assert.Equal(t, 7, st.Tension)
	assert.Equal(t, game.InitialLives, st.Lives)
	assert.Equal(t, game.XPPerTurn, f.agent.Settings().Snapshot().XP)

	transcript := f.agent.Transcript()
	require.Len(t, transcript, 2)
	assert.Equal(t, RoleUser, transcript[0].Role)
	assert.Equal(t, "Ich bin hier.", transcript[0].Content)
	assert.Equal(t, RoleAI, transcript[1].Role)
	assert.False(t, transcript[1].IsError)

	require.Len(t, f.judge.requests, 1)
	assert.Equal(t, 1, f.judge.requests[0].Turn)
	assert.Equal(t, game.Elite, f.judge.requests[0].Difficulty)
	assert.False(t, f.judge.requests[0].SynonymSwap)
}

func TestPenalizedTurnCostsALife(t *testing.T) {
	f := newFixture(t, TrialConfig{})
	f.play(t)
	f.judge.push(judge.Judgment{Reply: "PATHETIC.", MistakeFound: true, Explanation: "Wrong article.", TensionIncrease: 15})

	require.NoError(t, f.agent.Handle(context.Background(), "Ich bin die Mensch."))

	st := f.agent.Game().Snapshot()
	assert.Equal(t, 1, st.Turn)
	assert.Equal(t, game.InitialLives-1, st.Lives)
	assert.Equal(t, 15, st.Tension)
	assert.Zero(t, f.agent.Settings().Snapshot().XP)
	assert.True(t, f.agent.Angry())

	transcript := f.agent.Transcript()
	last := transcript[len(transcript)-1]
	assert.True(t, last.IsError)
	assert.Equal(t, "Wrong article.", last.Content)
	assert.Equal(t, "Wrong article.", transcript[1].Explanation)
}

func TestGrammarShieldAbsorbsABreach(t *testing.T) {
	f := newFixture(t, TrialConfig{})
	f.play(t)
	f.setXP(t, 500)
	require.NoError(t, f.agent.Handle(context.Background(), "/buy shield"))
	assert.True(t, f.agent.Settings().Snapshot().Has(game.GrammarShield))
	assert.Zero(t, f.agent.Settings().Snapshot().XP)

	outcome := f.agent.LoseLife(context.Background(), "Poor grammar.")
	assert.Equal(t, game.ShieldConsumed, outcome)
	assert.Equal(t, game.InitialLives, f.agent.Game().Snapshot().Lives)
	assert.False(t, f.agent.Settings().Snapshot().Has(game.GrammarShield))

	transcript := f.agent.Transcript()
	require.NotEmpty(t, transcript)
	assert.Equal(t, game.ShieldMessage, transcript[len(transcript)-1].Content)
	assert.False(t, transcript[len(transcript)-1].IsError)

	assert.Equal(t, game.LifeLost, f.agent.LoseLife(context.Background(), "Poor grammar."))
	assert.Equal(t, game.InitialLives-1, f.agent.Game().Snapshot().Lives)
}

func TestLastLifeEndsTheTrial(t *testing.T) {
	f := newFixture(t, TrialConfig{LiveEnabled: true})
	f.play(t)
	f.agent.Game().Update(func(s game.State) game.State {
		s.Lives = 1
		return s
	})

	assert.Equal(t, game.GameOver, f.agent.LoseLife(context.Background(), "Fatal."))
	st := f.agent.Game().Snapshot()
	assert.Equal(t, game.StatusGameOver, st.Status)
	assert.Zero(t, st.Lives)
	assert.False(t, f.agent.Countdown().Running())
	assert.Equal(t, 1, f.live.closeCount())
	assert.Contains(t, f.out.String(), "HUMANITY HAS FAILED")

	_, err := f.agent.Submit(context.Background(), "wait")
	assert.ErrorIs(t, err, shared.ErrNotPlaying)
}

func TestSurrenderAndForfeit(t *testing.T) {
	f := newFixture(t, TrialConfig{LiveEnabled: true, Rand: func(int) int { return 1 }})
	f.play(t)
	ctx := context.Background()

	require.NoError(t, f.agent.Handle(ctx, "/surrender"))
	assert.Equal(t, game.InitialLives-1, f.agent.Game().Snapshot().Lives)
	transcript := f.agent.Transcript()
	assert.Equal(t, game.CowardiceMessage, transcript[len(transcript)-1].Content)

	require.NoError(t, f.agent.Handle(ctx, "/forfeit"))
	st := f.agent.Game().Snapshot()
	assert.Equal(t, game.StatusSurrender, st.Status)
	assert.Equal(t, game.SurrenderPhrases[1], st.SurrenderPhrase)
	assert.Equal(t, 1, f.live.closeCount())
	assert.ErrorIs(t, f.agent.Handle(ctx, "/forfeit"), shared.ErrNotPlaying)
}

func TestTimeoutCostsALife(t *testing.T) {
	f := newFixture(t, TrialConfig{TickInterval: 2 * time.Millisecond})
	f.play(t)

	require.Eventually(t, func() bool {
		return f.agent.Game().Snapshot().Lives == game.InitialLives-1
	}, 2*time.Second, 5*time.Millisecond)

	found := false
	for _, m := range f.agent.Transcript() {
		if m.Content == game.TimeoutMessage && m.IsError {
			found = true
		}
	}
	assert.True(t, found)
}

func TestModalsPauseTheCountdown(t *testing.T) {
	f := newFixture(t, TrialConfig{})
	f.play(t)
	ctx := context.Background()

	require.NoError(t, f.agent.Handle(ctx, "/skills"))
	assert.True(t, f.agent.Game().Snapshot().SkillTreeOpen)
	assert.False(t, f.agent.Countdown().Running())
	assert.Contains(t, f.out.String(), "NEURAL UPGRADES")

	require.NoError(t, f.agent.Handle(ctx, "/settings"))
	require.NoError(t, f.agent.Handle(ctx, "/skills"))
	assert.False(t, f.agent.Countdown().Running())

	require.NoError(t, f.agent.Handle(ctx, "/settings"))
	assert.True(t, f.agent.Countdown().Running())
}

func TestSkillPurchaseRules(t *testing.T) {
	f := newFixture(t, TrialConfig{})
	ctx := context.Background()

	assert.ErrorIs(t, f.agent.Handle(ctx, "/buy synonym"), shared.ErrInsufficientXP)
	assert.Error(t, f.agent.Handle(ctx, "/buy flight"))

	f.setXP(t, 700)
	require.NoError(t, f.agent.Handle(ctx, "/buy synonym swap"))
	assert.ErrorIs(t, f.agent.Handle(ctx, "/buy synonym swap"), shared.ErrAlreadyUnlocked)
	assert.Equal(t, 400, f.agent.Settings().Snapshot().XP)

	f.play(t)
	_, err := f.agent.Submit(ctx, "hallo")
	require.NoError(t, err)
	assert.True(t, f.judge.requests[0].SynonymSwap)
}

func TestColorAndTheme(t *testing.T) {
	f := newFixture(t, TrialConfig{})
	ctx := context.Background()

	require.NoError(t, f.agent.Handle(ctx, "/color 2"))
	assert.Equal(t, "#00f0ff", f.agent.Settings().Snapshot().PrimaryColor)
	require.NoError(t, f.agent.Handle(ctx, "/color crimson red"))
	assert.Equal(t, "#ff3131", f.agent.Settings().Snapshot().PrimaryColor)
	assert.Error(t, f.agent.Handle(ctx, "/color 9"))

	require.NoError(t, f.agent.Handle(ctx, "/theme"))
	assert.Equal(t, settings.ThemeLight, f.agent.Settings().Snapshot().Theme)
}

func TestRestartKeepsSettings(t *testing.T) {
	f := newFixture(t, TrialConfig{})
	f.play(t)
	f.judge.push(judge.Judgment{Reply: "FINE."})
	_, err := f.agent.Submit(context.Background(), "gut")
	require.NoError(t, err)

	require.NoError(t, f.agent.Handle(context.Background(), "/restart"))
	assert.Equal(t, game.NewState(), f.agent.Game().Snapshot())
	assert.Empty(t, f.agent.Transcript())
	assert.Equal(t, game.XPPerTurn, f.agent.Settings().Snapshot().XP)
	assert.False(t, f.agent.Countdown().Running())
}

func TestStatusLineUsesPersonaStyle(t *testing.T) {
	f := newFixture(t, TrialConfig{})
	assert.Contains(t, f.agent.StatusLine(), "[START]")

	f.play(t)
	f.agent.Game().Update(func(s game.State) game.State {
		return s.ApplyToolUpdate(game.ToolUpdate{TensionDelta: 90, PersonaShift: string(game.Commander), ScavengeItem: "a cup"})
	})
	line := f.agent.StatusLine()
	assert.Contains(t, line, "The Commander")
	assert.Contains(t, line, "eye:slit")
	assert.Contains(t, line, "aura:#ff3131")
	assert.Contains(t, line, "~SHAKING~")
	assert.Contains(t, line, "SHOW: a cup")
	assert.Contains(t, line, "♥♥♥")
	assert.Contains(t, line, "T-00:30")
}

func TestHandleNoticeRecordsArbiterText(t *testing.T) {
	f := newFixture(t, TrialConfig{})
	f.agent.HandleNotice(live.Notice{Kind: shared.NoticeArbiter, Message: "SILENCE."})
	f.agent.HandleNotice(live.Notice{Kind: shared.NoticeWarning, Message: live.MicrophoneDeniedNotice})

	transcript := f.agent.Transcript()
	require.Len(t, transcript, 1)
	assert.Equal(t, "SILENCE.", transcript[0].Content)
	assert.Contains(t, f.out.String(), live.MicrophoneDeniedNotice)
}
