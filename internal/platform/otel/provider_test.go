package otel

import (
	"context"
	"strings"
	"testing"
)

func TestSetupNoopWhenEndpointEmpty(t *testing.T) {
	t.Setenv("BRIGADE_OTEL_ENDPOINT", "")
	t.Setenv("BRIGADE_OTEL_ENABLED", "")

	shutdown, err := Setup(context.Background(), "ledger")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetupNoopWhenExplicitlyDisabled(t *testing.T) {
	t.Setenv("BRIGADE_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("BRIGADE_OTEL_ENABLED", "false")

	shutdown, err := Setup(context.Background(), "ledger")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetupCreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address: nothing is exported before shutdown.
	t.Setenv("BRIGADE_OTEL_ENDPOINT", "http://192.0.2.1:4318")
	t.Setenv("BRIGADE_OTEL_ENABLED", "")

	shutdown, err := Setup(context.Background(), "ledger")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSamplerRatio(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "", want: "AlwaysOnSampler"},
		{raw: "abc", want: "AlwaysOnSampler"},
		{raw: "1.5", want: "AlwaysOnSampler"},
		{raw: "0.25", want: "TraceIDRatioBased"},
	}
	for _, tc := range tests {
		t.Setenv("BRIGADE_OTEL_SAMPLE_RATIO", tc.raw)
		got := sampler().Description()
		if !strings.Contains(got, tc.want) {
			t.Fatalf("sampler(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}
