package vk

import "encoding/json"

// Button colors recognised by the platform.
const (
	ColorPrimary  = "primary"
	ColorPositive = "positive"
	ColorNegative = "negative"
)

// ButtonPayload is the JSON payload a callback button carries back to the
// bot when pressed.
type ButtonPayload struct {
	Command string `json:"command"`
}

// ButtonAction describes what a keyboard button does.
type ButtonAction struct {
	Type    string `json:"type"`
	Payload string `json:"payload,omitempty"`
	Label   string `json:"label"`
}

// Button is one keyboard button.
type Button struct {
	Action ButtonAction `json:"action"`
	Color  string       `json:"color"`
}

// Keyboard is a selectable-button keyboard attached to a message. Buttons
// is a row-major grid.
type Keyboard struct {
	Inline  bool       `json:"inline"`
	Buttons [][]Button `json:"buttons"`
}

// CallbackButton builds a callback button whose payload carries command.
//
// Precondition: label must be non-empty; color must be one of the Color
// constants.
func CallbackButton(command, label, color string) Button {
	payload, _ := json.Marshal(ButtonPayload{Command: command})
	return Button{
		Action: ButtonAction{
			Type:    "callback",
			Payload: string(payload),
			Label:   label,
		},
		Color: color,
	}
}

// ParsePayload decodes a raw button event payload.
func ParsePayload(raw json.RawMessage) (ButtonPayload, error) {
	var p ButtonPayload
	if len(raw) == 0 {
		return p, nil
	}
	// The platform double-encodes payloads on some clients: the payload
	// arrives either as an object or as a JSON string containing one.
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return p, err
		}
		raw = json.RawMessage(inner)
	}
	err := json.Unmarshal(raw, &p)
	return p, err
}
