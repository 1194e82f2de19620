package stt

import (
	"fmt"

	"github.com/auriclabs/auric/internal/config"
	"github.com/auriclabs/auric/pkg/Logger"
)

// NewProvider builds the configured provider adapter.
func NewProvider(cfg config.STTConfig, logger *Logger.Logger) (Provider, error) {
	log := logger.Named("stt")
	switch cfg.Provider {
	case "deepgram":
		if cfg.DeepgramAPIKey == "" {
			return nil, fmt.Errorf("stt provider deepgram: missing api key")
		}
		return NewDeepgram(cfg.DeepgramAPIKey, log), nil
	case "soniox":
		if cfg.SonioxAPIKey == "" {
			return nil, fmt.Errorf("stt provider soniox: missing api key")
		}
		return NewSoniox(cfg.SonioxAPIKey, log), nil
	case "speechmatics":
		if cfg.SpeechmaticsAPIKey == "" {
			return nil, fmt.Errorf("stt provider speechmatics: missing api key")
		}
		return NewSpeechmatics(cfg.SpeechmaticsAPIKey, log), nil
	case "whisperx":
		if cfg.WhisperXURL == "" {
			return nil, fmt.Errorf("stt provider whisperx: missing url")
		}
		return NewWhisperX(cfg.WhisperXURL, log), nil
	default:
		return nil, fmt.Errorf("unknown stt provider %q", cfg.Provider)
	}
}
