package live

import (
	"fmt"
	"strings"

	"github.com/bt-bridge/worldsend-live/game"
	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"google.golang.org/genai"
)

const UpdateGameStateFunction = "update_game_state"

// ConnectParams selects the arbiter a live session speaks as.
type ConnectParams struct {
	Persona    game.Persona
	Path       game.Path
	Difficulty game.Difficulty
	Language   game.Language
}

type GenerationConfig struct {
	ResponseModalities []genai.Modality    `json:"responseModalities"`
	SpeechConfig       *genai.SpeechConfig `json:"speechConfig,omitempty"`
}

// Setup is the configuration payload sent once when the channel opens.
type Setup struct {
	Model             string            `json:"model"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *genai.Content    `json:"systemInstruction,omitempty"`
	Tools             []*genai.Tool     `json:"tools,omitempty"`
}

func BuildSetup(model string, p ConnectParams) *Setup {
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	return &Setup{
		Model: model,
		GenerationConfig: &GenerationConfig{
			ResponseModalities: []genai.Modality{genai.ModalityAudio},
			SpeechConfig: &genai.SpeechConfig{
				VoiceConfig: &genai.VoiceConfig{
					PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: p.Persona.Profile().Voice},
				},
			},
		},
		SystemInstruction: &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(SystemInstruction(p))}},
		Tools: []*genai.Tool{{
			FunctionDeclarations: []*genai.FunctionDeclaration{UpdateGameStateDeclaration()},
		}},
	}
}

func UpdateGameStateDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        UpdateGameStateFunction,
		Description: "Apply a bounded change to the trial state.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"tension_delta": {Type: genai.TypeInteger},
				"persona_shift": {Type: genai.TypeString},
				"xp_gain":       {Type: genai.TypeInteger},
				"scavenge_item": {Type: genai.TypeString, Description: "Ask the user to find a physical object."},
			},
		},
	}
}

func SystemInstruction(p ConnectParams) string {
	path := p.Path.Profile()
	var b strings.Builder
	fmt.Fprintf(&b, "JUDGE HUMANITY in %s.\n", p.Language.Name)
	fmt.Fprintf(&b, "PATH: %s - %s\n", path.Name, path.Instruction)
	fmt.Fprintf(&b, "DIFFICULTY: %s. %s\n", p.Difficulty, p.Difficulty.Profile().Strictness)
	fmt.Fprintf(&b, "PERSONA: %s\n", p.Persona.Profile().Instruction)
	b.WriteString("BARGE-IN: If user hesitates (Umm/Uh), INTERRUPT & MOCK.\n")
	b.WriteString("VISUALS: You see the user via camera. If they look away, increase tension.\n")
	b.WriteString("SCAVENGING: Ask them to show objects to prove life.\n")
	fmt.Fprintf(&b, "ADAPTIVE: Faster speech & idioms if tension > 50. Use %s tool often.", UpdateGameStateFunction)
	return b.String()
}

// YAML renders the payload for the terminal, keyed as on the wire.
func (s *Setup) YAML() ([]byte, error) {
	raw, err := sonic.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshaling setup: %w", err)
	}
	var m map[string]any
	if err := sonic.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshaling setup: %w", err)
	}
	return yaml.MarshalWithOptions(m, yaml.UseJSONMarshaler())
}
