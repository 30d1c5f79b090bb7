package sqsqueue

import (
	"strings"
	"testing"
)

func TestMessageGroupIDBucketed(t *testing.T) {
	got1 := messageGroupIDBucketed("vintage mugs", "A1B2C3", 64)
	got2 := messageGroupIDBucketed("vintage mugs", "A1B2C3", 64)
	if got1 != got2 {
		t.Fatalf("expected stable group id, got %q vs %q", got1, got2)
	}
	if !strings.HasPrefix(got1, "sellers-") {
		t.Fatalf("unexpected group id %q", got1)
	}

	// buckets<=0 should use default.
	got3 := messageGroupIDBucketed("vintage mugs", "A1B2C3", 0)
	if got3 == "" {
		t.Fatalf("expected non-empty group id for default buckets")
	}
}
