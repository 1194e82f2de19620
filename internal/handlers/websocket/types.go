package websocket

import (
	"encoding/json"
)

// ControlOp is the client->server JSON control verb on the listen
// socket. Binary messages on the same socket carry audio frames.
type ControlOp string

const (
	OpOpen        ControlOp = "open"
	OpClose       ControlOp = "close"
	OpPing        ControlOp = "ping"
	OpSetLanguage ControlOp = "set_language"
	OpGeolocation ControlOp = "geolocation"
)

// ControlMessage is the envelope for client control frames.
type ControlMessage struct {
	Op   ControlOp       `json:"op"`
	Args json.RawMessage `json:"args,omitempty"`
}

// OpenArgs starts the audio pipeline for this socket.
type OpenArgs struct {
	Codec           string `json:"codec"`
	SampleRate      int    `json:"sample_rate"`
	Channels        int    `json:"channels"`
	Language        string `json:"language"`
	SpeechProfileID string `json:"speech_profile_id,omitempty"`
}

type SetLanguageArgs struct {
	Language string `json:"language"`
}

type GeolocationArgs struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// ErrorMessage is sent to the client on protocol errors; the session
// stays up.
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
