package vorbiscodec

import "testing"

func TestSelectBitrateModeAllNegativeIsVBR(t *testing.T) {
	if got := SelectBitrateMode(false, -1, -1, -1); got != BitrateVBR {
		t.Fatalf("mode = %v, want BitrateVBR", got)
	}
}

func TestSelectBitrateModeNominalAloneIsABR(t *testing.T) {
	if got := SelectBitrateMode(false, -1, 64000, -1); got != BitrateABR {
		t.Fatalf("mode = %v, want BitrateABR", got)
	}
}

func TestSelectBitrateModeNominalWithBoundIsManaged(t *testing.T) {
	if got := SelectBitrateMode(false, 48000, 64000, -1); got != BitrateManaged {
		t.Fatalf("mode = %v, want BitrateManaged (min set)", got)
	}
	if got := SelectBitrateMode(false, -1, 64000, 80000); got != BitrateManaged {
		t.Fatalf("mode = %v, want BitrateManaged (max set)", got)
	}
}

func TestSelectBitrateModeManagedFlagForcesManaged(t *testing.T) {
	if got := SelectBitrateMode(true, -1, 64000, -1); got != BitrateManaged {
		t.Fatalf("mode = %v, want BitrateManaged (explicit managed)", got)
	}
}

func TestVbrQualityScalesConfigRangeToLibvorbis(t *testing.T) {
	// The config file speaks 0-10 (DEFAULT_QUALITY is 3); libvorbis wants
	// -0.1..1.0.
	for _, tc := range []struct{ in, want float32 }{
		{0, 0},
		{3, 0.3},
		{10, 1.0},
	} {
		got := vbrQuality(tc.in)
		if diff := got - tc.want; diff > 1e-6 || diff < -1e-6 {
			t.Errorf("vbrQuality(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
