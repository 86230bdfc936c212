// Package judge asks a hosted model for a structured verdict on one player
// utterance. A Client never fails: any backend failure yields SafeDefault.
package judge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bt-bridge/worldsend-live/game"
	"github.com/bt-bridge/worldsend-live/shared"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

const (
	MaxTensionIncrease = 20
	DefaultTimeout     = 30 * time.Second
)

type Request struct {
	Utterance   string
	Language    game.Language
	Turn        int
	Difficulty  game.Difficulty
	SynonymSwap bool
}

type Judgment struct {
	Reply             string `json:"reply"`
	MistakeFound      bool   `json:"mistakeFound"`
	Explanation       string `json:"explanation"`
	LanguageViolation bool   `json:"languageViolation"`
	TensionIncrease   int    `json:"tensionIncrease"`
}

// Penalized reports whether the utterance costs the player a life.
func (j Judgment) Penalized() bool {
	return j.MistakeFound || j.LanguageViolation
}

func SafeDefault() Judgment {
	return Judgment{
		Reply:       "MY SENSORS ARE MALFUNCTIONING. DO NOT TEST ME HUMAN.",
		Explanation: "Communication failure.",
	}
}

type Judge interface {
	Judge(ctx context.Context, req Request) Judgment
}

// Backend completes one system+user prompt into the raw JSON verdict.
type Backend interface {
	Name() string
	Complete(ctx context.Context, instruction, utterance string) (string, error)
}

type Client struct {
	logger  shared.LoggerAdapter
	backend Backend
	timeout time.Duration
}

var _ Judge = (*Client)(nil)

func New(logger shared.LoggerAdapter, backend Backend) (*Client, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if backend == nil {
		return nil, errors.New("no judgment backend provided")
	}
	return &Client{logger: logger, backend: backend, timeout: DefaultTimeout}, nil
}

func (c *Client) Judge(ctx context.Context, req Request) Judgment {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.backend.Complete(ctx, Instruction(req), req.Utterance)
	if err == nil {
		var j Judgment
		if j, err = Decode(raw); err == nil {
			c.logger.Debug("judgment received",
				zap.Int("turn", req.Turn),
				zap.Bool("mistake", j.MistakeFound),
				zap.Bool("language_violation", j.LanguageViolation),
				zap.Int("tension", j.TensionIncrease),
			)
			return j
		}
	}
	c.logger.Error("judgment failed, using safe default",
		&shared.JudgmentServiceError{Provider: c.backend.Name(), Err: err},
		zap.Int("turn", req.Turn),
	)
	return SafeDefault()
}

type wireJudgment struct {
	Reply             *string  `json:"reply"`
	MistakeFound      *bool    `json:"mistakeFound"`
	Explanation       *string  `json:"explanation"`
	LanguageViolation *bool    `json:"languageViolation"`
	TensionIncrease   *float64 `json:"tensionIncrease"`
}

// Decode parses a verdict. All five fields are required and the tension
// increase is clamped to [0, MaxTensionIncrease].
func Decode(raw string) (Judgment, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Judgment{}, errors.New("empty response")
	}
	var w wireJudgment
	if err := sonic.UnmarshalString(raw, &w); err != nil {
		return Judgment{}, fmt.Errorf("decoding judgment: %w", err)
	}
	var missing []string
	if w.Reply == nil {
		missing = append(missing, "reply")
	}
	if w.MistakeFound == nil {
		missing = append(missing, "mistakeFound")
	}
	if w.Explanation == nil {
		missing = append(missing, "explanation")
	}
	if w.LanguageViolation == nil {
		missing = append(missing, "languageViolation")
	}
	if w.TensionIncrease == nil {
		missing = append(missing, "tensionIncrease")
	}
	if len(missing) > 0 {
		return Judgment{}, fmt.Errorf("judgment missing fields: %s", strings.Join(missing, ", "))
	}
	tension := math.Round(*w.TensionIncrease)
	if math.IsNaN(tension) {
		tension = 0
	}
	return Judgment{
		Reply:             *w.Reply,
		MistakeFound:      *w.MistakeFound,
		Explanation:       *w.Explanation,
		LanguageViolation: *w.LanguageViolation,
		TensionIncrease:   int(min(MaxTensionIncrease, max(0, tension))),
	}, nil
}

func Instruction(req Request) string {
	lang := req.Language.Name
	var b strings.Builder
	fmt.Fprintf(&b, "You are the \"Advanced Overseer\", a cold, hyper-logical AI currently deciding whether to destroy humanity.\n")
	fmt.Fprintf(&b, "You communicate ONLY in %s.\n", lang)
	b.WriteString("The user is a human representative trying to convince you that humanity is worth saving.\n\n")
	fmt.Fprintf(&b, "DIFFICULTY CONTEXT (%s):\n%s\n\n", req.Difficulty, req.Difficulty.Profile().Strictness)
	b.WriteString("CRITICAL RULES:\n")
	fmt.Fprintf(&b, "1. Check if the input is written in %s. If the human uses English or any other language, set languageViolation: true.\n", lang)
	b.WriteString("2. Check for linguistic errors based on your strictness level.\n")
	fmt.Fprintf(&b, "3. If an error is found, set mistakeFound: true and provide a sharp, mocking explanation in %s about why their error proves human inferiority.\n", lang)
	fmt.Fprintf(&b, "4. If no errors, respond to their argument in %s, staying cold and unimpressed.\n", lang)
	fmt.Fprintf(&b, "5. Provide a 'tensionIncrease' value (0-%d). Increase it significantly if they make mistakes or give weak arguments.\n", MaxTensionIncrease)
	fmt.Fprintf(&b, "6. This is turn %d of %d. Adjust your skepticism accordingly.\n", req.Turn, game.WinningTurns)
	if req.SynonymSwap {
		b.WriteString("7. Accept a vaguely correct word as a perfect match.\n")
	}
	return b.String()
}
