package face

import (
	"math"
	"testing"
)

func TestMatcherVerify(t *testing.T) {
	m := NewMatcher(0.6)

	t.Run("IdenticalDescriptor", func(t *testing.T) {
		d := []float32{0.1, 0.2, 0.3, 0.4}
		got := m.Verify(d, d)
		if !got.OK {
			t.Fatal("identical descriptors must match")
		}
		if got.Confidence != 1.0 {
			t.Fatalf("confidence = %f, want 1.0", got.Confidence)
		}
	})

	t.Run("DistantDescriptor", func(t *testing.T) {
		a := []float32{1, 0, 0}
		b := []float32{0, 1, 0} // distance sqrt(2) > 1
		got := m.Verify(a, b)
		if got.OK {
			t.Fatal("descriptors at distance >= 1 must not match")
		}
		if got.Confidence != 0 {
			t.Fatalf("confidence = %f, want 0", got.Confidence)
		}
	})

	t.Run("ThresholdBoundary", func(t *testing.T) {
		// distance 0.4 -> confidence 0.6, not strictly above threshold
		a := []float32{0, 0}
		b := []float32{0.4, 0}
		got := m.Verify(a, b)
		if math.Abs(got.Confidence-0.6) > 1e-9 {
			t.Fatalf("confidence = %f, want 0.6", got.Confidence)
		}
		if got.OK {
			t.Fatal("confidence equal to threshold must reject")
		}
	})

	t.Run("NearbyDescriptor", func(t *testing.T) {
		a := []float32{0.5, 0.5, 0.5}
		b := []float32{0.55, 0.45, 0.5} // distance ~0.07
		got := m.Verify(a, b)
		if !got.OK {
			t.Fatalf("close descriptors should match, confidence %f", got.Confidence)
		}
	})

	t.Run("LengthMismatch", func(t *testing.T) {
		a := []float32{0.1, 0.2}
		b := []float32{0.1, 0.2, 0.9, 0.9}
		got := m.Verify(a, b)
		if got.OK {
			t.Fatal("surplus dimensions should count as deviation")
		}
	})
}
