package sysutil

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestSetLogLevel(t *testing.T) {
	orig := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(orig) })

	cases := map[string]zerolog.Level{
		"debug":      zerolog.DebugLevel,
		"  DeBuG  ":  zerolog.DebugLevel,
		"info":       zerolog.InfoLevel,
		"":           zerolog.InfoLevel,
		"warn":       zerolog.WarnLevel,
		"warning":    zerolog.WarnLevel,
		"error":      zerolog.ErrorLevel,
		"fatal":      zerolog.FatalLevel,
		"panic":      zerolog.PanicLevel,
		"verbose-ha": zerolog.InfoLevel,
	}
	for in, want := range cases {
		SetLogLevel(in)
		if got := zerolog.GlobalLevel(); got != want {
			t.Errorf("SetLogLevel(%q): level = %v, want %v", in, got, want)
		}
	}
}

func TestIsTruthy(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", " yes ", "Y", "on", "On"} {
		if !IsTruthy(v) {
			t.Errorf("IsTruthy(%q) = false", v)
		}
	}
	for _, v := range []string{"", "0", "false", "no", "off", "n", "  ", "enabled?"} {
		if IsTruthy(v) {
			t.Errorf("IsTruthy(%q) = true", v)
		}
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := FirstNonEmpty(); got != "" {
		t.Fatalf("no args: %q", got)
	}
	if got := FirstNonEmpty(" ", "\t", "\n"); got != "" {
		t.Fatalf("all blank: %q", got)
	}
	// The winning value keeps its original spacing.
	if got := FirstNonEmpty("   ", "  db.sqlite  ", "fallback"); got != "  db.sqlite  " {
		t.Fatalf("got %q", got)
	}
	if got := FirstNonEmpty("primary", "secondary"); got != "primary" {
		t.Fatalf("got %q", got)
	}
}
