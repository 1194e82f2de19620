package vad

import (
	"math"
	"testing"

	"github.com/auriclabs/auric/pkg/Logger"
)

func sine(samples int, amplitude float64) []byte {
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		s := int16(amplitude * 32767 * math.Sin(2*math.Pi*440*float64(i)/16000))
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	return pcm
}

func TestDetectsTone(t *testing.T) {
	v := NewEnergyVAD(DefaultConfig(), Logger.New(true))
	defer v.Close()

	result := v.Detect(sine(480, 0.5))
	if !result.HasVoice {
		t.Error("Expected voice for a loud tone")
	}
	if result.Confidence != 1.0 {
		t.Errorf("Expected saturated confidence, got %v", result.Confidence)
	}
}

func TestRejectsSilence(t *testing.T) {
	v := NewEnergyVAD(DefaultConfig(), Logger.New(true))
	defer v.Close()

	result := v.Detect(make([]byte, 960))
	if result.HasVoice {
		t.Error("Expected no voice for silence")
	}
}

func TestAggressivenessRaisesFloor(t *testing.T) {
	quiet := sine(480, 0.02)

	lenient := NewEnergyVAD(Config{SampleRate: 16000, Aggressiveness: 0, WindowMs: 30}, Logger.New(true))
	strict := NewEnergyVAD(Config{SampleRate: 16000, Aggressiveness: 3, WindowMs: 30}, Logger.New(true))

	if !lenient.Detect(quiet).HasVoice {
		t.Error("Expected mode 0 to accept a quiet tone")
	}
	if strict.Detect(quiet).HasVoice {
		t.Error("Expected mode 3 to reject a quiet tone")
	}
}

func TestWindowClamped(t *testing.T) {
	v := NewEnergyVAD(Config{SampleRate: 16000, WindowMs: 500}, Logger.New(true))
	if v.config.WindowMs != 40 {
		t.Errorf("Expected window clamped to 40ms, got %d", v.config.WindowMs)
	}
	v = NewEnergyVAD(Config{SampleRate: 16000, WindowMs: 1}, Logger.New(true))
	if v.config.WindowMs != 10 {
		t.Errorf("Expected window clamped to 10ms, got %d", v.config.WindowMs)
	}
}

func TestShortChunkHandled(t *testing.T) {
	v := NewEnergyVAD(DefaultConfig(), Logger.New(true))
	result := v.Detect([]byte{0x01})
	if result.HasVoice {
		t.Error("Expected no voice for a sub-sample chunk")
	}
}
