package openai

import (
	"testing"

	"github.com/mcprelay/mcprelay/internal/dispatch"
)

func TestUseBackground_NoStreamModelAlwaysBackground(t *testing.T) {
	a := &Adapter{backgroundThresholdSeconds: defaultBackgroundThresholdSeconds}
	got := a.useBackground(dispatch.Request{Model: "o1-pro", TimeoutHint: 5})
	if !got {
		t.Errorf("expected o1-pro to always dispatch in background, got streaming")
	}
}

func TestUseBackground_LongTimeoutForcesBackground(t *testing.T) {
	a := &Adapter{backgroundThresholdSeconds: defaultBackgroundThresholdSeconds}
	got := a.useBackground(dispatch.Request{Model: "gpt-4o", TimeoutHint: 300})
	if !got {
		t.Errorf("expected timeout_hint over the threshold to force background, got streaming")
	}
}

func TestUseBackground_UnlistedModelDefaultsToBackground(t *testing.T) {
	a := &Adapter{backgroundThresholdSeconds: defaultBackgroundThresholdSeconds}
	got := a.useBackground(dispatch.Request{Model: "some-new-model", TimeoutHint: 5})
	if !got {
		t.Errorf("expected a model absent from supportsStreamModels to default to background, got streaming")
	}
}

func TestUseBackground_AllowListedModelShortTimeoutStreams(t *testing.T) {
	a := &Adapter{backgroundThresholdSeconds: defaultBackgroundThresholdSeconds}
	got := a.useBackground(dispatch.Request{Model: "gpt-4o", TimeoutHint: 30})
	if got {
		t.Errorf("expected an allow-listed model under the timeout threshold to stream, got background")
	}
}

func TestUseBackground_AllowListedModelWithoutTimeoutHintStreams(t *testing.T) {
	a := &Adapter{backgroundThresholdSeconds: defaultBackgroundThresholdSeconds}
	got := a.useBackground(dispatch.Request{Model: "gpt-5"})
	if got {
		t.Errorf("expected an allow-listed model with no timeout hint to stream, got background")
	}
}

func TestUseBackground_TableOfModels(t *testing.T) {
	a := &Adapter{backgroundThresholdSeconds: defaultBackgroundThresholdSeconds}
	cases := []struct {
		model          string
		timeoutHint    int64
		wantBackground bool
	}{
		{"o3-pro", 1, true},
		{"gpt-4o", 1, false},
		{"gpt-4o-mini", 1, false},
		{"gpt-4.1", 1, false},
		{"gpt-4.1-mini", 1, false},
		{"gpt-5", 1, false},
		{"gpt-5-mini", 1, false},
		{"unknown-model", 1, true},
		{"gpt-4o", 200, true},
	}
	for _, tc := range cases {
		got := a.useBackground(dispatch.Request{Model: tc.model, TimeoutHint: tc.timeoutHint})
		if got != tc.wantBackground {
			t.Errorf("useBackground(%q, timeout=%d) = %v, want %v", tc.model, tc.timeoutHint, got, tc.wantBackground)
		}
	}
}
