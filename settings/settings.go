package settings

import (
	"slices"

	"github.com/bt-bridge/worldsend-live/game"
	"github.com/bt-bridge/worldsend-live/shared"
)

// Key is the single key-value entry holding the serialized settings.
const Key = "worldsend-v3-settings"

type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

type Settings struct {
	PrimaryColor      string         `json:"primaryColor"`
	Theme             Theme          `json:"theme"`
	BaseTime          int            `json:"baseTime"`
	XP                int            `json:"xp"`
	UnlockedAbilities []game.Ability `json:"unlockedAbilities"`
}

func Defaults() Settings {
	return Settings{
		PrimaryColor:      "#00ff41",
		Theme:             ThemeDark,
		BaseTime:          60,
		XP:                0,
		UnlockedAbilities: []game.Ability{},
	}
}

func (s Settings) Has(a game.Ability) bool {
	return slices.Contains(s.UnlockedAbilities, a)
}

func (s Settings) AddXP(n int) Settings {
	s.XP += n
	return s
}

// Buy spends the skill cost and unlocks it.
func (s Settings) Buy(skill game.Skill) (Settings, error) {
	if s.Has(skill.ID) {
		return s, shared.ErrAlreadyUnlocked
	}
	if s.XP < skill.Cost {
		return s, shared.ErrInsufficientXP
	}
	s.XP -= skill.Cost
	s.UnlockedAbilities = append(slices.Clone(s.UnlockedAbilities), skill.ID)
	return s, nil
}

// Revoke removes a consumed ability.
func (s Settings) Revoke(a game.Ability) Settings {
	s.UnlockedAbilities = slices.DeleteFunc(slices.Clone(s.UnlockedAbilities), func(x game.Ability) bool { return x == a })
	return s
}

func (s Settings) WithPrimaryColor(c game.ThemeColor) Settings {
	s.PrimaryColor = c.Value
	return s
}

func (s Settings) ToggleTheme() Settings {
	if s.Theme == ThemeLight {
		s.Theme = ThemeDark
	} else {
		s.Theme = ThemeLight
	}
	return s
}

func (s Settings) normalized() Settings {
	d := Defaults()
	if s.PrimaryColor == "" {
		s.PrimaryColor = d.PrimaryColor
	}
	if s.Theme != ThemeDark && s.Theme != ThemeLight {
		s.Theme = d.Theme
	}
	if s.BaseTime <= 0 {
		s.BaseTime = d.BaseTime
	}
	if s.UnlockedAbilities == nil {
		s.UnlockedAbilities = []game.Ability{}
	}
	return s
}
