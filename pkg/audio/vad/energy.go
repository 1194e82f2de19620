package vad

import (
	"github.com/auriclabs/auric/pkg/Logger"
)

// aggressivenessThresholds map mode 0-3 to a normalized RMS energy
// floor. Higher modes demand more energy before flagging speech.
var aggressivenessThresholds = [4]float32{0.0001, 0.0003, 0.001, 0.003}

// EnergyVAD flags speech when any analysis window inside the chunk
// exceeds the energy floor. A chunk shorter than one window is padded
// with silence, matching how the device emits trailing partial frames.
type EnergyVAD struct {
	config    Config
	threshold float32
	logger    *Logger.Logger
	closed    bool
}

func NewEnergyVAD(config Config, logger *Logger.Logger) *EnergyVAD {
	if config.WindowMs < 10 {
		config.WindowMs = 10
	}
	if config.WindowMs > 40 {
		config.WindowMs = 40
	}
	threshold := config.Threshold
	if threshold == 0 {
		mode := config.Aggressiveness
		if mode < 0 {
			mode = 0
		}
		if mode > 3 {
			mode = 3
		}
		threshold = aggressivenessThresholds[mode]
	}
	return &EnergyVAD{config: config, threshold: threshold, logger: logger}
}

// Detect implements VAD.
func (v *EnergyVAD) Detect(pcm []byte) Result {
	if v.closed || len(pcm) < 2 {
		return Result{}
	}

	windowBytes := v.config.SampleRate * v.config.WindowMs / 1000 * 2
	if windowBytes < 2 {
		windowBytes = 2
	}

	var best float32
	for offset := 0; offset < len(pcm); offset += windowBytes {
		end := offset + windowBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		energy := rmsEnergy(pcm[offset:end])
		if energy > best {
			best = energy
		}
		if energy > v.threshold {
			confidence := energy / v.threshold
			if confidence > 1.0 {
				confidence = 1.0
			}
			return Result{HasVoice: true, Confidence: confidence}
		}
	}

	return Result{HasVoice: false, Confidence: best / v.threshold}
}

func (v *EnergyVAD) Close() error {
	v.closed = true
	return nil
}

// rmsEnergy computes mean squared sample energy normalized to 0-1.
func rmsEnergy(pcm []byte) float32 {
	var sum int64
	sampleCount := len(pcm) / 2
	if sampleCount == 0 {
		return 0
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		sum += int64(sample) * int64(sample)
	}
	mean := float32(sum) / float32(sampleCount)
	return mean / (32768.0 * 32768.0)
}
