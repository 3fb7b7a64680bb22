package voice

// Classifier decides whether a single fixed-size PCM16 frame contains
// speech. Implementations must be safe for use from one goroutine at a
// time; the session engine never calls a classifier concurrently.
type Classifier interface {
	IsSpeech(pcm16 []byte) bool
}

// EnergyClassifier is the default frame classifier: RMS energy against a
// fixed threshold. It is deliberately simple; swap in a model-backed
// Classifier for noisy environments.
type EnergyClassifier struct {
	// Threshold on the 0.0..1.0 RMS scale. Frames at or above it count
	// as speech.
	Threshold float64
}

// NewEnergyClassifier returns a classifier with the given threshold,
// falling back to a conservative default when it is not positive.
func NewEnergyClassifier(threshold float64) *EnergyClassifier {
	if threshold <= 0 {
		threshold = 0.012
	}
	return &EnergyClassifier{Threshold: threshold}
}

func (c *EnergyClassifier) IsSpeech(pcm16 []byte) bool {
	if len(pcm16) == 0 {
		return false
	}
	return RMSEnergy(pcm16) >= c.Threshold
}

// ClassifierFunc adapts a plain function to the Classifier interface.
type ClassifierFunc func(pcm16 []byte) bool

func (f ClassifierFunc) IsSpeech(pcm16 []byte) bool { return f(pcm16) }
