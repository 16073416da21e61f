package config

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestBindAppliesDefaultsWithoutFlagsSet(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	load := Bind(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg, err := load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := Defaults()
	if cfg != want {
		t.Fatalf("cfg = %+v, want defaults %+v", cfg, want)
	}
}

func TestBindFlagOverridesDefault(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	load := Bind(fs)
	if err := fs.Parse([]string{"--listen-addr", ":9999", "--default-codec", "h264"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg, err := load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Fatalf("ListenAddr = %q, want :9999", cfg.ListenAddr)
	}
	if cfg.DefaultCodec != "h264" {
		t.Fatalf("DefaultCodec = %q, want h264", cfg.DefaultCodec)
	}
}

func TestBindEnvOverridesDefault(t *testing.T) {
	t.Setenv("STREAMCOMPOSITOR_DEFAULT_BITRATE_BPS", "500000")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	load := Bind(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg, err := load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DefaultBitrateBps != 500000 {
		t.Fatalf("DefaultBitrateBps = %d, want 500000 from env", cfg.DefaultBitrateBps)
	}
}
