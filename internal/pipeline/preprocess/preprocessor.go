package preprocess

import (
	"math"

	"github.com/auriclabs/auric/internal/types"
	"github.com/auriclabs/auric/pkg/Logger"
	"github.com/auriclabs/auric/pkg/audio/vad"
)

// Policy decides what happens to VAD-negative chunks on the STT path.
// Dropping never affects the audio fan-out; subscribers always see the
// verbatim byte stream.
type Policy struct {
	VADEnabled  bool
	DropSilence bool
}

// Output annotates the processed chunk. ForwardToSTT is false only for
// silent chunks under the DropSilence policy.
type Output struct {
	Chunk        types.PcmChunk
	ForwardToSTT bool
}

// Preprocessor runs VAD gating and speech-profile scoring on each
// chunk. It never mutates samples.
type Preprocessor struct {
	policy   Policy
	detector vad.VAD
	profile  *SpeechProfile // nil when the session owns no profile
	logger   *Logger.Logger

	silentChunks uint64
}

func New(policy Policy, detector vad.VAD, profile *SpeechProfile, logger *Logger.Logger) *Preprocessor {
	return &Preprocessor{
		policy:   policy,
		detector: detector,
		profile:  profile,
		logger:   logger,
	}
}

// Process takes one chunk in and returns one annotated chunk out.
func (p *Preprocessor) Process(chunk types.PcmChunk) Output {
	out := Output{Chunk: chunk, ForwardToSTT: true}
	out.Chunk.OwnerScore = -1

	if p.policy.VADEnabled && p.detector != nil {
		result := p.detector.Detect(chunk.Samples)
		if !result.HasVoice {
			p.silentChunks++
			out.Chunk.Silent = true
			if p.policy.DropSilence {
				out.ForwardToSTT = false
			}
		}
	}

	if p.profile != nil {
		out.Chunk.OwnerScore = p.profile.Score(chunk.Samples)
	}

	return out
}

// SilentChunks reports how many chunks the detector flagged non-speech.
func (p *Preprocessor) SilentChunks() uint64 {
	return p.silentChunks
}

func (p *Preprocessor) Close() error {
	if p.detector != nil {
		return p.detector.Close()
	}
	return nil
}

// SpeechProfile holds the owner's enrollment fingerprint. Scoring is a
// cheap cosine similarity against a per-chunk amplitude-distribution
// fingerprint; heavier speaker verification stays with the provider's
// diarization.
type SpeechProfile struct {
	Embedding []float32
}

const fingerprintBins = 8

// Score returns the owner likelihood in [0,1].
func (sp *SpeechProfile) Score(pcm []byte) float32 {
	if len(sp.Embedding) != fingerprintBins || len(pcm) < 2 {
		return 0
	}
	fp := Fingerprint(pcm)
	return cosine(fp[:], sp.Embedding)
}

// Fingerprint buckets absolute sample amplitudes into a small
// normalized histogram.
func Fingerprint(pcm []byte) [fingerprintBins]float32 {
	var bins [fingerprintBins]float32
	samples := len(pcm) / 2
	if samples == 0 {
		return bins
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		amp := int(sample)
		if amp < 0 {
			amp = -amp
		}
		bin := amp * fingerprintBins / 32768
		if bin >= fingerprintBins {
			bin = fingerprintBins - 1
		}
		bins[bin]++
	}
	for i := range bins {
		bins[i] /= float32(samples)
	}
	return bins
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
