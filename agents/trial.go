package agents

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	live "github.com/bt-bridge/worldsend-live"
	"github.com/bt-bridge/worldsend-live/game"
	"github.com/bt-bridge/worldsend-live/judge"
	"github.com/bt-bridge/worldsend-live/settings"
	"github.com/bt-bridge/worldsend-live/shared"
	"go.uber.org/zap"
)

const angerDuration = 2 * time.Second

type Role string

const (
	RoleUser Role = "user"
	RoleAI   Role = "ai"
)

// Message is one transcript line of the trial.
type Message struct {
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	IsError     bool      `json:"isError,omitempty"`
	Explanation string    `json:"explanation,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// LiveController is the part of live.Controller the agent drives.
type LiveController interface {
	Connect(ctx context.Context, params live.ConnectParams) error
	Close()
	LinkActive() bool
}

type TrialConfig struct {
	LiveEnabled bool
	LiveModel   string
	// TickInterval is the countdown period, one second when zero.
	TickInterval time.Duration
	// Rand picks an index in [0, n); math/rand when nil.
	Rand func(n int) int
}

// TrialAgent owns the trial: it dispatches terminal commands, runs text
// turns through the judge, keeps the countdown in step with the game state
// and opens the live session once a path is chosen.
type TrialAgent struct {
	logger    shared.LoggerAdapter
	printer   *shared.Printer
	game      *game.Store
	settings  *settings.Manager
	judge     judge.Judge
	countdown *game.Countdown
	cfg       TrialConfig

	ctx    context.Context
	cancel context.CancelCauseFunc

	// lifeMu serializes life losses so one shield absorbs one breach.
	lifeMu sync.Mutex

	mu         sync.Mutex
	live       LiveController
	transcript []Message
	angryUntil time.Time

	volume    atomic.Uint64
	closeOnce sync.Once
}

func NewTrialAgent(
	ctx context.Context,
	logger shared.LoggerAdapter,
	printer *shared.Printer,
	store *game.Store,
	manager *settings.Manager,
	j judge.Judge,
	cfg TrialConfig,
) (*TrialAgent, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if printer == nil {
		return nil, errors.New("no printer provided")
	}
	if store == nil || manager == nil {
		return nil, shared.ErrNoStore
	}
	if j == nil {
		return nil, errors.New("no judge provided")
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.IntN
	}
	a := &TrialAgent{
		logger:   logger,
		printer:  printer,
		game:     store,
		settings: manager,
		judge:    j,
		cfg:      cfg,
	}
	a.ctx, a.cancel = context.WithCancelCause(ctx)

	var err error
	a.countdown, err = game.NewCountdown(logger, store, cfg.TickInterval, a.onTimeout)
	if err != nil {
		return nil, fmt.Errorf("creating countdown: %w", err)
	}
	store.Subscribe(a.onStateChange)
	a.countdown.Sync(a.ctx, store.Snapshot())
	return a, nil
}

// AttachLive sets the controller used once a path is selected.
func (a *TrialAgent) AttachLive(ctrl LiveController) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.live = ctrl
}

func (a *TrialAgent) liveController() LiveController {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}

func (a *TrialAgent) Game() *game.Store {
	return a.game
}

func (a *TrialAgent) Settings() *settings.Manager {
	return a.settings
}

func (a *TrialAgent) Countdown() *game.Countdown {
	return a.countdown
}

func (a *TrialAgent) Done() <-chan struct{} {
	return a.ctx.Done()
}

// Close ends the trial loop and any live session.
func (a *TrialAgent) Close() error {
	a.closeOnce.Do(func() {
		a.countdown.Stop()
		if ctrl := a.liveController(); ctrl != nil {
			ctrl.Close()
		}
		a.cancel(errors.New("agent closed"))
		a.logger.Info("trial agent closed")
	})
	return nil
}

func (a *TrialAgent) Transcript() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Message(nil), a.transcript...)
}

func (a *TrialAgent) record(m Message) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	a.mu.Lock()
	a.transcript = append(a.transcript, m)
	a.mu.Unlock()
}

func (a *TrialAgent) say(kind shared.NoticeKind, format string, args ...any) {
	if err := a.printer.Notice(kind, format, args...); err != nil {
		a.logger.Error("printing notice", err)
	}
}

func (a *TrialAgent) Angry() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return time.Now().Before(a.angryUntil)
}

// HandleNotice prints a live-path notice. Arbiter text also goes to the
// transcript.
func (a *TrialAgent) HandleNotice(n live.Notice) {
	if n.Kind == shared.NoticeArbiter {
		a.record(Message{Role: RoleAI, Content: n.Message})
	}
	a.say(n.Kind, "%s", n.Message)
}

func (a *TrialAgent) HandleLink(active bool) {
	if active {
		a.say(shared.NoticeInfo, "📡 LINK ONLINE. The arbiter is listening.")
	} else {
		a.say(shared.NoticeInfo, "📡 LINK OFFLINE.")
	}
}

func (a *TrialAgent) HandleVolume(v float64) {
	a.volume.Store(math.Float64bits(v))
}

func (a *TrialAgent) Volume() float64 {
	return math.Float64frombits(a.volume.Load())
}

// onStateChange runs outside the store lock. It must not touch the settings
// manager, whose Update may be the caller.
func (a *TrialAgent) onStateChange(prev, next game.State) {
	a.countdown.Sync(a.ctx, next)
	if prev.Status == next.Status {
		return
	}
	a.logger.Debug("trial status changed",
		zap.String("from", string(prev.Status)),
		zap.String("to", string(next.Status)),
	)
	switch next.Status {
	case game.StatusStart:
		a.printLanguages()
	case game.StatusDifficulty:
		a.printDifficulties()
	case game.StatusPathSelection:
		a.printPaths()
	case game.StatusPlaying:
		a.say(shared.NoticeArbiter, "THE TRIAL BEGINS. Speak %s, human.", next.Language.Name)
	case game.StatusGameOver:
		a.say(shared.NoticeArbiter, "HUMANITY HAS FAILED. The purge begins.")
	case game.StatusVictory:
		a.say(shared.NoticeArbiter, "...ACCEPTABLE. Humanity is spared. For now.")
	case game.StatusSurrender:
		a.say(shared.NoticeArbiter, "%s", next.SurrenderPhrase)
	}
	if next.Status.Terminal() {
		if ctrl := a.liveController(); ctrl != nil {
			ctrl.Close()
		}
		a.say(shared.NoticeInfo, "Type /restart to reboot the trial.")
	}
}

func (a *TrialAgent) onTimeout() {
	a.LoseLife(a.ctx, game.TimeoutMessage)
}

// LoseLife applies one breach. A Grammar Shield absorbs it; otherwise a life
// is lost with reason as the error line of the transcript.
func (a *TrialAgent) LoseLife(ctx context.Context, reason string) game.LifeOutcome {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()

	unlocked := a.settings.Snapshot().UnlockedAbilities
	var outcome game.LifeOutcome
	next := a.game.Update(func(s game.State) game.State {
		s, _, outcome = game.ResolveLifeLoss(s, unlocked)
		return s
	})

	switch outcome {
	case game.ShieldConsumed:
		if _, err := a.settings.Update(ctx, func(cur settings.Settings) (settings.Settings, error) {
			return cur.Revoke(game.GrammarShield), nil
		}); err != nil {
			a.logger.Error("consuming grammar shield", err)
		}
		a.record(Message{Role: RoleAI, Content: game.ShieldMessage})
		a.say(shared.NoticeArbiter, "%s", game.ShieldMessage)
	case game.LifeLost, game.GameOver:
		a.mu.Lock()
		a.angryUntil = time.Now().Add(angerDuration)
		a.mu.Unlock()
		a.record(Message{Role: RoleAI, Content: reason, IsError: true})
		a.say(shared.NoticeWarning, "%s (lives: %d)", reason, next.Lives)
	}
	a.logger.Info("life loss resolved",
		zap.String("outcome", outcome.String()),
		zap.Int("lives", next.Lives),
		zap.String("reason", reason),
	)
	return outcome
}

// Submit runs one text turn. A mistake or the wrong language costs a life
// with the judge's explanation; a clean turn advances the trial and awards
// experience.
func (a *TrialAgent) Submit(ctx context.Context, text string) (judge.Judgment, error) {
	st := a.game.Snapshot()
	if !st.Playing() {
		return judge.Judgment{}, shared.ErrNotPlaying
	}
	a.record(Message{Role: RoleUser, Content: text})

	verdict := a.judge.Judge(ctx, judge.Request{
		Utterance:   text,
		Language:    st.Language,
		Turn:        st.Turn,
		Difficulty:  st.Difficulty,
		SynonymSwap: a.settings.Snapshot().Has(game.SynonymSwap),
	})
	a.record(Message{
		Role:        RoleAI,
		Content:     verdict.Reply,
		IsError:     verdict.Penalized(),
		Explanation: verdict.Explanation,
	})
	a.say(shared.NoticeArbiter, "%s", verdict.Reply)

	a.game.Update(func(s game.State) game.State {
		if !s.Playing() {
			return s
		}
		return s.AddTension(verdict.TensionIncrease)
	})
	if verdict.Penalized() {
		a.LoseLife(ctx, verdict.Explanation)
		return verdict, nil
	}

	var advanced bool
	a.game.Update(func(s game.State) game.State {
		advanced = s.Playing()
		return s.CompleteTurn()
	})
	if advanced {
		if _, err := a.settings.Update(ctx, func(cur settings.Settings) (settings.Settings, error) {
			return cur.AddXP(game.XPPerTurn), nil
		}); err != nil {
			a.logger.Error("awarding turn xp", err)
		}
	}
	return verdict, nil
}

// Handle dispatches one terminal line. Lines starting with "/" are commands;
// anything else is a text turn.
func (a *TrialAgent) Handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		_, err := a.Submit(ctx, line)
		return err
	}
	fields := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(fields) == 0 {
		return shared.ErrUnknownCommand
	}
	cmd, arg := strings.ToLower(fields[0]), strings.Join(fields[1:], " ")

	switch cmd {
	case "help":
		a.printHelp()
		return nil
	case "status":
		a.say(shared.NoticeInfo, "%s", a.StatusLine())
		return nil
	case "language", "lang":
		lang, ok := game.LanguageByCode(strings.ToLower(arg))
		if !ok {
			return fmt.Errorf("unknown language %q", arg)
		}
		return a.transition(func(s game.State) (game.State, error) { return s.SelectLanguage(lang) })
	case "difficulty":
		d, ok := parseDifficulty(arg)
		if !ok {
			return fmt.Errorf("unknown difficulty %q", arg)
		}
		return a.transition(func(s game.State) (game.State, error) { return s.SelectDifficulty(d) })
	case "path":
		p, ok := parsePath(arg)
		if !ok {
			return fmt.Errorf("unknown path %q", arg)
		}
		if err := a.transition(func(s game.State) (game.State, error) { return s.SelectPath(p) }); err != nil {
			return err
		}
		a.connectLive()
		return nil
	case "back":
		a.game.Update(game.State.Back)
		return nil
	case "live":
		if !a.game.Snapshot().Playing() {
			return shared.ErrNotPlaying
		}
		a.connectLive()
		return nil
	case "surrender":
		if !a.game.Snapshot().Playing() {
			return shared.ErrNotPlaying
		}
		a.LoseLife(ctx, game.CowardiceMessage)
		return nil
	case "forfeit":
		phrase := game.SurrenderPhrases[a.cfg.Rand(len(game.SurrenderPhrases))]
		return a.transition(func(s game.State) (game.State, error) { return s.Forfeit(phrase) })
	case "skills":
		a.toggleModal(game.ModalSkillTree)
		return nil
	case "settings":
		a.toggleModal(game.ModalSettings)
		return nil
	case "buy":
		return a.buy(ctx, arg)
	case "color":
		c, ok := parseColor(arg)
		if !ok {
			return fmt.Errorf("unknown color %q", arg)
		}
		_, err := a.settings.Update(ctx, func(cur settings.Settings) (settings.Settings, error) {
			return cur.WithPrimaryColor(c), nil
		})
		return err
	case "theme":
		next, err := a.settings.Update(ctx, func(cur settings.Settings) (settings.Settings, error) {
			return cur.ToggleTheme(), nil
		})
		if err == nil {
			a.say(shared.NoticeInfo, "Theme: %s", next.Theme)
		}
		return err
	case "restart":
		a.Restart()
		return nil
	}
	return fmt.Errorf("%w: /%s", shared.ErrUnknownCommand, cmd)
}

// transition applies a rule that may reject the current state.
func (a *TrialAgent) transition(rule func(game.State) (game.State, error)) error {
	var ruleErr error
	a.game.Update(func(s game.State) game.State {
		next, err := rule(s)
		if err != nil {
			ruleErr = err
			return s
		}
		return next
	})
	return ruleErr
}

// Restart closes any live session and returns to the language screen.
// Settings and experience are kept.
func (a *TrialAgent) Restart() {
	if ctrl := a.liveController(); ctrl != nil {
		ctrl.Close()
	}
	a.mu.Lock()
	a.transcript = nil
	a.angryUntil = time.Time{}
	a.mu.Unlock()
	a.game.Update(func(game.State) game.State { return game.NewState() })
}

func (a *TrialAgent) connectLive() {
	ctrl := a.liveController()
	if !a.cfg.LiveEnabled || ctrl == nil {
		a.say(shared.NoticeInfo, "Live link disabled. Text protocol active.")
		return
	}
	st := a.game.Snapshot()
	params := live.ConnectParams{
		Persona:    st.Persona,
		Path:       st.Path,
		Difficulty: st.Difficulty,
		Language:   st.Language,
	}
	if out, err := live.BuildSetup(a.cfg.LiveModel, params).YAML(); err != nil {
		a.logger.Error("marshaling live setup to yaml", err)
	} else {
		if err := a.printer.Writeln("📋 Live Setup\n", 0); err != nil {
			a.logger.Error("printing live setup message", err)
		}
		if err := a.printer.Write(string(out), 1); err != nil {
			a.logger.Error("printing live setup", err)
		}
	}
	if err := ctrl.Connect(a.ctx, params); err != nil {
		a.logger.Warn("live session unavailable, continuing in text", zap.Error(err))
	}
}

func (a *TrialAgent) toggleModal(m game.Modal) {
	next := a.game.Update(func(s game.State) game.State {
		open := s.SettingsOpen
		if m == game.ModalSkillTree {
			open = s.SkillTreeOpen
		}
		return s.SetModal(m, !open)
	})
	open := next.SettingsOpen
	if m == game.ModalSkillTree {
		open = next.SkillTreeOpen
	}
	if !open {
		a.say(shared.NoticeInfo, "Closed %s.", m)
		return
	}
	set := a.settings.Snapshot()
	if m == game.ModalSkillTree {
		a.say(shared.NoticeInfo, "NEURAL UPGRADES (XP %d). The clock is paused.", set.XP)
		for _, sk := range game.Skills {
			owned := ""
			if set.Has(sk.ID) {
				owned = " [OWNED]"
			}
			a.say(shared.NoticeInfo, "  %s (%d XP)%s: %s", sk.ID, sk.Cost, owned, sk.Description)
		}
		return
	}
	a.say(shared.NoticeInfo, "SETTINGS. Theme %s, color %s. The clock is paused.", set.Theme, set.PrimaryColor)
	for i, c := range game.ThemeColors {
		a.say(shared.NoticeInfo, "  /color %d  %s %s", i+1, c.Name, c.Value)
	}
}

func (a *TrialAgent) buy(ctx context.Context, arg string) error {
	skill, ok := parseSkill(arg)
	if !ok {
		return fmt.Errorf("unknown skill %q", arg)
	}
	next, err := a.settings.Update(ctx, func(cur settings.Settings) (settings.Settings, error) {
		return cur.Buy(skill)
	})
	if err != nil {
		return fmt.Errorf("buying %s: %w", skill.ID, err)
	}
	a.say(shared.NoticeInfo, "%s unlocked. XP left: %d", skill.ID, next.XP)
	return nil
}

// StatusLine renders the trial state with the persona's visual style.
func (a *TrialAgent) StatusLine() string {
	st := a.game.Snapshot()
	set := a.settings.Snapshot()
	if !st.Status.Terminal() && !st.Playing() {
		return fmt.Sprintf("[%s] XP %d", strings.ToUpper(string(st.Status)), set.XP)
	}
	profile := st.Persona.Profile()
	style := profile.Style
	angry := a.Angry() || st.Status == game.StatusSurrender

	var b strings.Builder
	fmt.Fprintf(&b, "[TURN %d/%d] ", st.Turn, game.WinningTurns)
	b.WriteString(strings.Repeat("♥", st.Lives) + strings.Repeat("♡", max(game.InitialLives-st.Lives, 0)))
	fmt.Fprintf(&b, " TENSION %d%% T-%02d:%02d", st.Tension, st.TimeLeft/60, st.TimeLeft%60)
	fmt.Fprintf(&b, " | %s eye:%s aura:%s", profile.Name, style.Pupil, style.AuraColor(set.PrimaryColor, angry))
	if style.Shaking(st.Tension) {
		b.WriteString(" ~SHAKING~")
	}
	if st.ScavengeTarget != "" {
		fmt.Fprintf(&b, " | SHOW: %s", st.ScavengeTarget)
	}
	fmt.Fprintf(&b, " | XP %d", set.XP)
	if ctrl := a.liveController(); ctrl != nil && ctrl.LinkActive() {
		fmt.Fprintf(&b, " | LINK ONLINE mic %.2f", a.Volume())
	}
	return b.String()
}

func (a *TrialAgent) printLanguages() {
	a.say(shared.NoticeInfo, "Choose the language of your defense with /language <code>:")
	for _, l := range game.Languages {
		a.say(shared.NoticeInfo, "  %s  %s (%s)", l.Code, l.Name, l.NativeName)
	}
}

func (a *TrialAgent) printDifficulties() {
	a.say(shared.NoticeInfo, "Choose a difficulty with /difficulty <name>:")
	for _, d := range game.Difficulties() {
		p := d.Profile()
		a.say(shared.NoticeInfo, "  %s  %d s per turn. %s", d, p.Seconds, p.Strictness)
	}
}

func (a *TrialAgent) printPaths() {
	a.say(shared.NoticeInfo, "Choose your path with /path <name>:")
	for _, p := range game.Paths() {
		prof := p.Profile()
		a.say(shared.NoticeInfo, "  %s  %s", p, prof.Description)
	}
}

func (a *TrialAgent) printHelp() {
	for _, line := range []string{
		"/language <code>, /difficulty <name>, /path <name>, /back",
		"/surrender costs a life, /forfeit ends the trial",
		"/skills, /buy <skill>, /settings, /color <n>, /theme",
		"/live reconnects the link, /status, /restart",
		"Anything else is your defense.",
	} {
		a.say(shared.NoticeInfo, "%s", line)
	}
}

// Greet prints the opening screen.
func (a *TrialAgent) Greet() {
	if err := a.printer.Writeln(fmt.Sprintf("👁  WORLD'S END v%s. The arbiter awaits.\n", shared.Version), 0); err != nil {
		a.logger.Error("printing greeting", err)
	}
	a.printLanguages()
}

func parseDifficulty(arg string) (game.Difficulty, bool) {
	for _, d := range game.Difficulties() {
		if strings.EqualFold(string(d), arg) {
			return d, true
		}
	}
	return "", false
}

func parsePath(arg string) (game.Path, bool) {
	arg = strings.TrimPrefix(strings.ToLower(arg), "the ")
	for _, p := range game.Paths() {
		if strings.EqualFold(string(p), arg) {
			return p, true
		}
	}
	return "", false
}

func parseSkill(arg string) (game.Skill, bool) {
	arg = strings.ToLower(arg)
	if arg == "" {
		return game.Skill{}, false
	}
	for _, sk := range game.Skills {
		if strings.Contains(strings.ToLower(string(sk.ID)), arg) {
			return sk, true
		}
	}
	return game.Skill{}, false
}

// parseColor accepts a 1-based index, a color name or its hex value.
func parseColor(arg string) (game.ThemeColor, bool) {
	if i, err := strconv.Atoi(arg); err == nil {
		if i >= 1 && i <= len(game.ThemeColors) {
			return game.ThemeColors[i-1], true
		}
		return game.ThemeColor{}, false
	}
	for _, c := range game.ThemeColors {
		if strings.EqualFold(c.Name, arg) || strings.EqualFold(c.Value, arg) {
			return c, true
		}
	}
	return game.ThemeColor{}, false
}
