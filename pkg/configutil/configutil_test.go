package configutil

import (
	"strings"
	"testing"
	"time"
)

type mockSettings struct {
	Reply    string        `mapstructure:"reply"`
	Interval time.Duration `mapstructure:"interval"`
	Models   []string      `mapstructure:"models"`
}

func TestDecodeSettingsNormalizesKeysAndDurations(t *testing.T) {
	var out mockSettings
	err := DecodeSettings(map[string]any{
		"Reply":    "hi",
		"INTERVAL": "160ms",
		"models":   "a,b",
	}, &out)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if out.Reply != "hi" || out.Interval != 160*time.Millisecond {
		t.Fatalf("unexpected decode result: %+v", out)
	}
	if len(out.Models) != 2 || out.Models[1] != "b" {
		t.Fatalf("unexpected models: %v", out.Models)
	}
}

func TestValidateSettingsReportsMissingAndUnknown(t *testing.T) {
	err := ValidateSettings(map[string]any{"api_key": " ", "colour": 1}, Schema{
		Fields: []Field{
			{Name: "api-key", Kind: KindString, Required: true},
			{Name: "model", Kind: KindString, Required: true},
		},
	})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "missing: api-key, model") {
		t.Fatalf("unexpected missing list: %s", msg)
	}
	if !strings.Contains(msg, "unknown: colour") {
		t.Fatalf("unexpected unknown list: %s", msg)
	}
}

func TestValidateSettingsChecksKinds(t *testing.T) {
	schema := Schema{Fields: []Field{
		{Name: "interval", Kind: KindDuration},
		{Name: "min_bytes", Kind: KindInt},
		{Name: "interim", Kind: KindBool},
		{Name: "reply", Kind: KindString},
	}}
	ok := map[string]any{"interval": "160ms", "min_bytes": float64(320), "interim": "true", "reply": "hi"}
	if err := ValidateSettings(ok, schema); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bad := map[string]any{"interval": "soon", "min_bytes": 1.5, "interim": "maybe", "reply": []any{"x"}}
	err := ValidateSettings(bad, schema)
	if err == nil {
		t.Fatalf("expected kind errors")
	}
	for _, key := range []string{"interval", "min_bytes", "interim", "reply"} {
		if !strings.Contains(err.Error(), key+" (") {
			t.Fatalf("expected %s reported invalid: %v", key, err)
		}
	}
	if err := ValidateSettings(map[string]any{"interval": "-1s"}, schema); err == nil || !strings.Contains(err.Error(), "negative") {
		t.Fatalf("expected negative duration rejected, got %v", err)
	}
	if err := ValidateSettings(map[string]any{"extra": 1}, Schema{AllowUnknown: true}); err != nil {
		t.Fatalf("expected unknown keys allowed, got %v", err)
	}
}

func TestFirstNonEmptyFallsBackToEnv(t *testing.T) {
	t.Setenv("VOXLINK_TEST_KEY", "from-env")
	if got := FirstNonEmpty("", "VOXLINK_MISSING", "VOXLINK_TEST_KEY"); got != "from-env" {
		t.Fatalf("expected env fallback, got %q", got)
	}
	if got := FirstNonEmpty("explicit", "VOXLINK_TEST_KEY"); got != "explicit" {
		t.Fatalf("expected explicit value, got %q", got)
	}
}
