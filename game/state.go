package game

import (
	"fmt"
	"slices"

	"github.com/bt-bridge/worldsend-live/shared"
)

type Status string

const (
	StatusStart         Status = "start"
	StatusDifficulty    Status = "difficulty"
	StatusPathSelection Status = "path_selection"
	StatusPlaying       Status = "playing"
	StatusGameOver      Status = "gameover"
	StatusVictory       Status = "victory"
	StatusSurrender     Status = "surrender"
)

func (s Status) Terminal() bool {
	return s == StatusGameOver || s == StatusVictory || s == StatusSurrender
}

// State is one committed snapshot of the trial. All rules are pure and return
// the next snapshot.
type State struct {
	Status          Status
	Lives           int
	Turn            int
	Language        Language
	Difficulty      Difficulty
	Persona         Persona
	Path            Path
	Tension         int
	TimeLeft        int
	ScavengeTarget  string
	SettingsOpen    bool
	SkillTreeOpen   bool
	SurrenderPhrase string
}

func NewState() State {
	return State{
		Status:     StatusStart,
		Lives:      InitialLives,
		Difficulty: Diplomat,
		Persona:    Inquisitor,
		Path:       Negotiator,
		TimeLeft:   Diplomat.Profile().Seconds,
	}
}

func (s State) Playing() bool {
	return s.Status == StatusPlaying
}

// Ticking reports whether the countdown should run.
func (s State) Ticking() bool {
	return s.Playing() && !s.SettingsOpen && !s.SkillTreeOpen
}

func (s State) SelectLanguage(l Language) (State, error) {
	if s.Status != StatusStart {
		return s, fmt.Errorf("cannot choose a language in status %s", s.Status)
	}
	if _, ok := LanguageByCode(l.Code); !ok {
		return s, fmt.Errorf("unknown language %q", l.Code)
	}
	s.Language = l
	s.Status = StatusDifficulty
	return s, nil
}

func (s State) SelectDifficulty(d Difficulty) (State, error) {
	if s.Status != StatusDifficulty {
		return s, fmt.Errorf("cannot choose a difficulty in status %s", s.Status)
	}
	if !d.Valid() {
		return s, fmt.Errorf("unknown difficulty %q", d)
	}
	s.Difficulty = d
	s.Status = StatusPathSelection
	return s, nil
}

// SelectPath starts the trial on its first turn.
func (s State) SelectPath(p Path) (State, error) {
	if s.Status != StatusPathSelection {
		return s, fmt.Errorf("cannot choose a path in status %s", s.Status)
	}
	if !p.Valid() {
		return s, fmt.Errorf("unknown path %q", p)
	}
	s.Path = p
	s.Status = StatusPlaying
	s.Turn = 1
	s.TimeLeft = s.Difficulty.Profile().Seconds
	return s, nil
}

// Back returns to the previous selection screen.
func (s State) Back() State {
	switch s.Status {
	case StatusDifficulty:
		s.Status = StatusStart
	case StatusPathSelection:
		s.Status = StatusDifficulty
	}
	return s
}

func (s State) AddTension(delta int) State {
	s.Tension = min(100, max(0, s.Tension+delta))
	return s
}

// ToolUpdate carries the arguments of one update_game_state call. Zero values
// mean no change.
type ToolUpdate struct {
	TensionDelta int
	PersonaShift string
	XPGain       int
	ScavengeItem string
}

// ApplyToolUpdate applies the game-state part of a tool call. XPGain is
// settings state and is left to the caller.
func (s State) ApplyToolUpdate(u ToolUpdate) State {
	s = s.AddTension(u.TensionDelta)
	if p := Persona(u.PersonaShift); p.Valid() {
		s.Persona = p
	}
	if u.ScavengeItem != "" {
		s.ScavengeTarget = u.ScavengeItem
	}
	return s
}

// CompleteTurn advances the turn counter up to WinningTurns and resets the
// turn timer; reaching WinningTurns is a victory.
func (s State) CompleteTurn() State {
	if !s.Playing() {
		return s
	}
	s.Turn = min(s.Turn+1, WinningTurns)
	s.TimeLeft = s.Difficulty.Profile().Seconds
	if s.Turn >= WinningTurns {
		s.Status = StatusVictory
	}
	return s
}

// LoseLife removes one life; no lives left is a game over.
func (s State) LoseLife() State {
	if !s.Playing() {
		return s
	}
	s.Lives--
	if s.Lives <= 0 {
		s.Lives = 0
		s.Status = StatusGameOver
	}
	return s
}

type LifeOutcome int

const (
	LifeIgnored LifeOutcome = iota
	ShieldConsumed
	LifeLost
	GameOver
)

func (o LifeOutcome) String() string {
	switch o {
	case ShieldConsumed:
		return "shield_consumed"
	case LifeLost:
		return "life_lost"
	case GameOver:
		return "game_over"
	default:
		return "ignored"
	}
}

// ResolveLifeLoss consumes a Grammar Shield if one is unlocked, otherwise it
// costs a life. The returned abilities never alias unlocked.
func ResolveLifeLoss(s State, unlocked []Ability) (State, []Ability, LifeOutcome) {
	remaining := slices.Clone(unlocked)
	if !s.Playing() {
		return s, remaining, LifeIgnored
	}
	if i := slices.Index(remaining, GrammarShield); i >= 0 {
		return s, slices.Delete(remaining, i, i+1), ShieldConsumed
	}
	s = s.LoseLife()
	if s.Status == StatusGameOver {
		return s, remaining, GameOver
	}
	return s, remaining, LifeLost
}

// Tick counts the turn timer down by one second. A tick at zero reports
// expiry and resets the timer.
func (s State) Tick() (State, bool) {
	if !s.Ticking() {
		return s, false
	}
	if s.TimeLeft <= 0 {
		s.TimeLeft = s.Difficulty.Profile().Seconds
		return s, true
	}
	s.TimeLeft--
	return s, false
}

type Modal string

const (
	ModalSettings  Modal = "settings"
	ModalSkillTree Modal = "skills"
)

func (s State) SetModal(m Modal, open bool) State {
	switch m {
	case ModalSettings:
		s.SettingsOpen = open
	case ModalSkillTree:
		s.SkillTreeOpen = open
	}
	return s
}

// Forfeit ends the trial voluntarily with the given closing phrase.
func (s State) Forfeit(phrase string) (State, error) {
	if !s.Playing() {
		return s, shared.ErrNotPlaying
	}
	s.Status = StatusSurrender
	s.SurrenderPhrase = phrase
	return s, nil
}
