package face

import "math"

// Match is the outcome of comparing a candidate descriptor against a stored one.
type Match struct {
	OK         bool    `json:"is_match"`
	Confidence float64 `json:"confidence"`
}

// Matcher decides whether two face descriptors belong to the same person.
// Threshold is tunable; the reference default lives in config.
type Matcher struct {
	Threshold float64
}

// NewMatcher creates a matcher with the given confidence threshold.
func NewMatcher(threshold float64) *Matcher {
	return &Matcher{Threshold: threshold}
}

// Verify compares descriptors and returns a similarity confidence in [0,1].
// Confidence is 1 - min(euclidean distance, 1); a match requires confidence
// strictly above the threshold.
func (m *Matcher) Verify(stored, candidate []float32) Match {
	distance := euclidean(stored, candidate)
	confidence := 1 - math.Min(distance, 1)
	if confidence < 0 {
		confidence = 0
	}
	return Match{OK: confidence > m.Threshold, Confidence: confidence}
}

func euclidean(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	// Length mismatch counts the surplus dimensions as full deviation.
	for i := n; i < len(a); i++ {
		sum += float64(a[i]) * float64(a[i])
	}
	for i := n; i < len(b); i++ {
		sum += float64(b[i]) * float64(b[i])
	}
	return math.Sqrt(sum)
}
