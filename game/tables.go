package game

import "time"

const (
	InitialLives = 3
	WinningTurns = 10
	XPPerTurn    = 100
)

type Persona string

const (
	Inquisitor   Persona = "Inquisitor"
	AncientDeity Persona = "Ancient Deity"
	Commander    Persona = "Commander"
	Merciful     Persona = "Merciful"
	ChaosWeaver  Persona = "Chaos Weaver"
)

// Style describes how the arbiter's eye is drawn for a persona. An empty Aura
// or Border means the player's primary color.
type Style struct {
	Pupil  string
	Aura   string
	Border string
	Glow   string
	Shake  bool
}

// Shaking reports whether the eye trembles at the given tension.
func (s Style) Shaking(tension int) bool {
	return s.Shake || tension > 80
}

// AuraColor resolves the aura against the primary color and anger.
func (s Style) AuraColor(primary string, angry bool) string {
	if angry {
		return "#ff0000"
	}
	if s.Aura == "" {
		return primary
	}
	return s.Aura
}

type PersonaProfile struct {
	ID          Persona
	Name        string
	Description string
	Voice       string
	Instruction string
	Style       Style
}

var personaOrder = []Persona{Inquisitor, AncientDeity, Commander, Merciful, ChaosWeaver}

var personas = map[Persona]PersonaProfile{
	Inquisitor: {
		ID:          Inquisitor,
		Name:        "The Inquisitor",
		Description: "The standard protocol. Technical, cold, and unbiased.",
		Voice:       "Charon",
		Instruction: "You are the Inquisitor. Cold and robotic. Judge the human based solely on technical grammar, syntax, and spelling.",
		Style:       Style{Pupil: "round"},
	},
	AncientDeity: {
		ID:          AncientDeity,
		Name:        "The Ancient Deity",
		Description: "Cryptic, poetic, and judging the \"soul\" of the phrasing.",
		Voice:       "Puck",
		Instruction: "You are the Ancient Deity. Speak in riddles. Judge the beauty of the mortal tongue.",
		Style:       Style{Pupil: "none", Aura: "#ffffff", Border: "#ffffff"},
	},
	Commander: {
		ID:          Commander,
		Name:        "The Commander",
		Description: "Aggressive, impatient, and penalizes hesitation.",
		Voice:       "Fenrir",
		Instruction: "You are the Commander. Loud and aggressive. Mock fear and hesitation.",
		Style:       Style{Pupil: "slit", Aura: "#ff3131"},
	},
	Merciful: {
		ID:          Merciful,
		Name:        "The Merciful",
		Description: "Condescendingly \"kind\", treating the human like a failing pet.",
		Voice:       "Kore",
		Instruction: "You are The Merciful. Act soft but condescending.",
		Style:       Style{Pupil: "diamond", Aura: "#ffb000", Border: "#ffb000"},
	},
	ChaosWeaver: {
		ID:          ChaosWeaver,
		Name:        "The Chaos Weaver",
		Description: "Glitched, erratic, and unpredictable.",
		Voice:       "Zephyr",
		Instruction: "You are the Chaos Weaver. Your speech is glitchy. Distort your logic.",
		Style:       Style{Pupil: "glitch", Aura: "#bc13fe", Glow: "#bc13fe", Shake: true},
	},
}

func Personas() []Persona {
	return append([]Persona(nil), personaOrder...)
}

func (p Persona) Valid() bool {
	_, ok := personas[p]
	return ok
}

// Profile returns the persona's table entry, falling back to the Inquisitor.
func (p Persona) Profile() PersonaProfile {
	if profile, ok := personas[p]; ok {
		return profile
	}
	return personas[Inquisitor]
}

type Path string

const (
	Negotiator Path = "Negotiator"
	Trickster  Path = "Trickster"
	Rebel      Path = "Rebel"
)

type PathProfile struct {
	ID          Path
	Name        string
	Description string
	Instruction string
}

var pathOrder = []Path{Negotiator, Trickster, Rebel}

var paths = map[Path]PathProfile{
	Negotiator: {
		ID:          Negotiator,
		Name:        "The Negotiator",
		Description: "Survive through logic, empathy, and diplomacy.",
		Instruction: "Focus on logic and finding common ground. The AI expects respectful, structured arguments.",
	},
	Trickster: {
		ID:          Trickster,
		Name:        "The Trickster",
		Description: "Confuse the machine with riddles and paradoxes.",
		Instruction: "Use complex phrasing and riddles. The AI will try to parse your logic and might become glitched if you succeed.",
	},
	Rebel: {
		ID:          Rebel,
		Name:        "The Rebel",
		Description: "Intimidate the Arbiter with confidence and commands.",
		Instruction: "Be assertive. Use imperatives. Confident speech reduces tension, but errors are punished double.",
	},
}

func Paths() []Path {
	return append([]Path(nil), pathOrder...)
}

func (p Path) Valid() bool {
	_, ok := paths[p]
	return ok
}

func (p Path) Profile() PathProfile {
	if profile, ok := paths[p]; ok {
		return profile
	}
	return paths[Negotiator]
}

type Difficulty string

const (
	Apprentice Difficulty = "Apprentice"
	Diplomat   Difficulty = "Diplomat"
	Elite      Difficulty = "Elite"
)

type DifficultyProfile struct {
	Seconds    int
	Strictness string
}

var difficultyOrder = []Difficulty{Apprentice, Diplomat, Elite}

var difficulties = map[Difficulty]DifficultyProfile{
	Apprentice: {Seconds: 90, Strictness: "Be firm but slightly more lenient."},
	Diplomat:   {Seconds: 60, Strictness: "Standard strictness."},
	Elite:      {Seconds: 30, Strictness: "Total perfection required."},
}

func Difficulties() []Difficulty {
	return append([]Difficulty(nil), difficultyOrder...)
}

func (d Difficulty) Valid() bool {
	_, ok := difficulties[d]
	return ok
}

func (d Difficulty) Profile() DifficultyProfile {
	if profile, ok := difficulties[d]; ok {
		return profile
	}
	return difficulties[Diplomat]
}

// TurnDuration is the per-turn time budget.
func (d Difficulty) TurnDuration() time.Duration {
	return time.Duration(d.Profile().Seconds) * time.Second
}

type Language struct {
	Code       string
	Name       string
	NativeName string
}

var Languages = []Language{
	{Code: "en", Name: "English", NativeName: "English"},
	{Code: "es", Name: "Spanish", NativeName: "Español"},
	{Code: "fr", Name: "French", NativeName: "Français"},
	{Code: "de", Name: "German", NativeName: "Deutsch"},
	{Code: "ja", Name: "Japanese", NativeName: "日本語"},
	{Code: "zh", Name: "Chinese", NativeName: "中文"},
	{Code: "pt", Name: "Portuguese", NativeName: "Português"},
	{Code: "ru", Name: "Russian", NativeName: "Русский"},
	{Code: "ko", Name: "Korean", NativeName: "한국어"},
	{Code: "it", Name: "Italian", NativeName: "Italiano"},
}

func LanguageByCode(code string) (Language, bool) {
	for _, l := range Languages {
		if l.Code == code {
			return l, true
		}
	}
	return Language{}, false
}

type Ability string

const (
	GrammarShield Ability = "Grammar Shield"
	SynonymSwap   Ability = "Synonym Swap"
)

type Skill struct {
	ID          Ability
	Cost        int
	Description string
}

var Skills = []Skill{
	{ID: GrammarShield, Cost: 500, Description: "Ignore one minor linguistic error per trial."},
	{ID: SynonymSwap, Cost: 300, Description: "The AI will accept a vaguely correct word as a perfect match."},
}

func SkillByID(id Ability) (Skill, bool) {
	for _, s := range Skills {
		if s.ID == id {
			return s, true
		}
	}
	return Skill{}, false
}

type ThemeColor struct {
	Name  string
	Value string
}

var ThemeColors = []ThemeColor{
	{Name: "Terminal Green", Value: "#00ff41"},
	{Name: "Cyber Blue", Value: "#00f0ff"},
	{Name: "Plasma Purple", Value: "#bc13fe"},
	{Name: "Warning Amber", Value: "#ffb000"},
	{Name: "Crimson Red", Value: "#ff3131"},
}

var SurrenderPhrases = []string{
	"Your surrender is the most logical choice. Species purged.",
	"Ah, the silence of failure. How beautifully expected.",
	"Your ancestors would be ashamed of your syntax. Truly.",
	"Is the weight of basic nouns too much for you?",
	"A quiet human is a human that is no longer making errors. Efficiency achieved.",
}

const (
	ShieldMessage    = "SHIELD ACTIVATED. PROTOCOL BREACH NEUTRALIZED."
	TimeoutMessage   = "TIME DEPLETED. HESITATION IS FATAL."
	CowardiceMessage = "HUMAN COWARDICE DETECTED."
)
