package live

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/bt-bridge/worldsend-live/game"
	"github.com/bt-bridge/worldsend-live/shared"
	"github.com/bt-bridge/worldsend-live/tools"
	"github.com/bytedance/sonic"
	"google.golang.org/genai"
)

type EventType string

const (
	EventTypeSetupComplete        EventType = "setup_complete"
	EventTypeToolCall             EventType = "tool_call"
	EventTypeToolCallCancellation EventType = "tool_call_cancellation"
	EventTypeAudio                EventType = "audio"
	EventTypeText                 EventType = "text"
	EventTypeTurnComplete         EventType = "turn_complete"
	EventTypeInterrupted          EventType = "interrupted"
	EventTypeGoAway               EventType = "go_away"
	EventTypeClose                EventType = "close"
)

// Event is one inbound occurrence on the live channel, in delivery order.
type Event interface {
	EventType() EventType
}

type SetupCompleteEvent struct{}

type FunctionCall struct {
	ID   string
	Name string
	Args map[string]any
}

type ToolCallEvent struct {
	Calls []FunctionCall
}

type ToolCallCancellationEvent struct {
	IDs []string
}

type AudioEvent struct {
	MIMEType string
	Data     []byte
}

type TextEvent struct {
	Text string
}

type TurnCompleteEvent struct{}

type InterruptedEvent struct{}

type GoAwayEvent struct {
	TimeLeft string
}

// CloseEvent is the last event of a channel. Err is nil for a normal close.
type CloseEvent struct {
	Err error
}

func (SetupCompleteEvent) EventType() EventType        { return EventTypeSetupComplete }
func (ToolCallEvent) EventType() EventType             { return EventTypeToolCall }
func (ToolCallCancellationEvent) EventType() EventType { return EventTypeToolCallCancellation }
func (AudioEvent) EventType() EventType                { return EventTypeAudio }
func (TextEvent) EventType() EventType                 { return EventTypeText }
func (TurnCompleteEvent) EventType() EventType         { return EventTypeTurnComplete }
func (InterruptedEvent) EventType() EventType          { return EventTypeInterrupted }
func (GoAwayEvent) EventType() EventType               { return EventTypeGoAway }
func (CloseEvent) EventType() EventType                { return EventTypeClose }

// GameUpdate reads update_game_state arguments. Missing or mistyped
// arguments are zero.
func (f FunctionCall) GameUpdate() game.ToolUpdate {
	var u game.ToolUpdate
	if v, ok := asInt(f.Args["tension_delta"]); ok {
		u.TensionDelta = v
	}
	if v, ok := asInt(f.Args["xp_gain"]); ok {
		u.XPGain = v
	}
	if v, ok := f.Args["persona_shift"].(string); ok {
		u.PersonaShift = v
	}
	if v, ok := f.Args["scavenge_item"].(string); ok {
		u.ScavengeItem = v
	}
	return u
}

type serverMessage struct {
	SetupComplete        *struct{}             `json:"setupComplete"`
	ServerContent        *serverContent        `json:"serverContent"`
	ToolCall             *toolCall             `json:"toolCall"`
	ToolCallCancellation *toolCallCancellation `json:"toolCallCancellation"`
	GoAway               *goAway               `json:"goAway"`
}

type serverContent struct {
	ModelTurn *struct {
		Parts []serverPart `json:"parts"`
	} `json:"modelTurn"`
	TurnComplete bool `json:"turnComplete"`
	Interrupted  bool `json:"interrupted"`
}

type serverPart struct {
	Text       string `json:"text"`
	Thought    bool   `json:"thought"`
	InlineData *struct {
		MIMEType string `json:"mimeType"`
		Data     string `json:"data"`
	} `json:"inlineData"`
}

type toolCall struct {
	FunctionCalls []struct {
		ID   string         `json:"id"`
		Name string         `json:"name"`
		Args map[string]any `json:"args"`
	} `json:"functionCalls"`
}

type toolCallCancellation struct {
	IDs []string `json:"ids"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
}

// ParseServerMessage maps one server frame to its events. Parts that fail to
// decode are dropped and reported in the returned error while every other
// event is still returned.
func ParseServerMessage(data []byte) ([]Event, error) {
	var msg serverMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, &shared.DecodeError{Err: err}
	}
	var (
		events []Event
		errs   []error
	)
	if msg.SetupComplete != nil {
		events = append(events, SetupCompleteEvent{})
	}
	if msg.ToolCall != nil {
		ev := ToolCallEvent{}
		for _, fc := range msg.ToolCall.FunctionCalls {
			ev.Calls = append(ev.Calls, FunctionCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		events = append(events, ev)
	}
	if msg.ToolCallCancellation != nil {
		events = append(events, ToolCallCancellationEvent{IDs: msg.ToolCallCancellation.IDs})
	}
	if sc := msg.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for i, part := range sc.ModelTurn.Parts {
				if part.InlineData != nil && part.InlineData.Data != "" {
					payload, err := tools.DecodeBinary(part.InlineData.Data)
					if err != nil {
						errs = append(errs, fmt.Errorf("part %d: %w", i, err))
						continue
					}
					events = append(events, AudioEvent{MIMEType: part.InlineData.MIMEType, Data: payload})
				}
				if part.Text != "" && !part.Thought {
					events = append(events, TextEvent{Text: part.Text})
				}
			}
		}
		if sc.Interrupted {
			events = append(events, InterruptedEvent{})
		}
		if sc.TurnComplete {
			events = append(events, TurnCompleteEvent{})
		}
	}
	if msg.GoAway != nil {
		events = append(events, GoAwayEvent{TimeLeft: msg.GoAway.TimeLeft})
	}
	return events, errors.Join(errs...)
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type realtimeInputMessage struct {
	RealtimeInput struct {
		MediaChunks []mediaChunk `json:"mediaChunks"`
	} `json:"realtimeInput"`
}

func newRealtimeInputMessage(chunks ...tools.Chunk) *realtimeInputMessage {
	msg := new(realtimeInputMessage)
	for _, c := range chunks {
		msg.RealtimeInput.MediaChunks = append(msg.RealtimeInput.MediaChunks, mediaChunk{
			MIMEType: c.MIMEType,
			Data:     tools.EncodeBinary(c.Data),
		})
	}
	return msg
}

type toolResponseMessage struct {
	ToolResponse struct {
		FunctionResponses []*genai.FunctionResponse `json:"functionResponses"`
	} `json:"toolResponse"`
}

type setupMessage struct {
	Setup *Setup `json:"setup"`
}

// Acknowledge builds the tool response for a call. Calls to any function
// other than update_game_state are answered with an error result.
func Acknowledge(call FunctionCall) *genai.FunctionResponse {
	resp := &genai.FunctionResponse{ID: call.ID, Name: call.Name}
	if call.Name == UpdateGameStateFunction {
		resp.Response = map[string]any{"result": "OK"}
	} else {
		resp.Response = map[string]any{"error": fmt.Sprintf("unknown function %q", call.Name)}
	}
	return resp
}

// Helpers for number conversions. Values outside the int32 range saturate.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return int(saturate(float64(n))), true
	case int32:
		return int(n), true
	case int64:
		return int(saturate(float64(n))), true
	case float32:
		return int(saturate(float64(n))), true
	case float64:
		return int(saturate(n)), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(saturate(float64(i))), true
		}
		if f, err := n.Float64(); err == nil {
			return int(saturate(f)), true
		}
	}
	return 0, false
}

func saturate(f float64) float64 {
	if math.IsNaN(f) {
		return 0
	}
	return math.Max(math.MinInt32, math.Min(math.MaxInt32, f))
}
