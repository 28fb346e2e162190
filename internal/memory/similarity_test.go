package memory

import (
	"math"
	"testing"
	"time"
)

func TestCosine(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{1, 0}); math.Abs(got-1) > 1e-9 {
		t.Errorf("identical vectors = %f, want 1", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); math.Abs(got) > 1e-9 {
		t.Errorf("orthogonal vectors = %f, want 0", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{-1, 0}); math.Abs(got+1) > 1e-9 {
		t.Errorf("opposite vectors = %f, want -1", got)
	}
	if got := Cosine([]float32{0, 0}, []float32{1, 0}); got != 0 {
		t.Errorf("zero-norm vector = %f, want 0", got)
	}
	if got := Cosine([]float32{1}, []float32{1, 0}); got != 0 {
		t.Errorf("mismatched dims = %f, want 0", got)
	}
}

func TestRecencyFactor(t *testing.T) {
	now := time.Now()
	if got := RecencyFactor(now, now, 0.01); got != 1 {
		t.Errorf("fresh record = %f, want 1", got)
	}
	got := RecencyFactor(now.Add(-100*24*time.Hour), now, 0.01)
	if math.Abs(got-0.5) > 1e-6 {
		t.Errorf("100-day-old record = %f, want 0.5", got)
	}
	// Clock skew must not inflate scores.
	if got := RecencyFactor(now.Add(time.Hour), now, 0.01); got != 1 {
		t.Errorf("future record = %f, want 1", got)
	}
}
