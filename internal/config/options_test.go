package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseConfigFormats(t *testing.T) {
	tests := []struct {
		name string
		path string
		data string
	}{
		{"yaml", "lunar.yaml", "dialect: \"5.3\"\nsandbox:\n  max_instructions: 5000\nlog:\n  level: debug\n"},
		{"toml", "lunar.toml", "dialect = \"5.3\"\n[sandbox]\nmax_instructions = 5000\n[log]\nlevel = \"debug\"\n"},
		{"cue", "lunar.cue", "dialect: \"5.3\"\nsandbox: max_instructions: 5000\nlog: level: \"debug\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := ParseConfig([]byte(tt.data), tt.path)
			if err != nil {
				t.Fatalf("ParseConfig: %v", err)
			}
			if opts.DialectValue() != Lua53 {
				t.Errorf("dialect = %v, want Lua 5.3", opts.DialectValue())
			}
			if opts.Sandbox.MaxInstructions != 5000 {
				t.Errorf("max_instructions = %d, want 5000", opts.Sandbox.MaxInstructions)
			}
			if opts.Log.Level != "debug" {
				t.Errorf("log.level = %q, want debug", opts.Log.Level)
			}
			if opts.Sandbox.MaxCallDepth != DefaultMaxCallDepth {
				t.Errorf("max_call_depth default not applied: %d", opts.Sandbox.MaxCallDepth)
			}
			if opts.ColonCall != "userdata" {
				t.Errorf("colon_call default = %q", opts.ColonCall)
			}
		})
	}
}

func TestParseConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		path string
		data string
		want string
	}{
		{"bad dialect", "x.yaml", "dialect: \"4.0\"\n", "unknown dialect"},
		{"bad colon", "x.yaml", "colon_call: always\n", "colon_call"},
		{"bad level", "x.toml", "[log]\nlevel = \"loud\"\n", "log.level"},
		{"negative", "x.yaml", "sandbox:\n  max_call_depth: -1\n", "max_call_depth"},
		{"cue schema", "x.cue", "dialect: \"6.0\"\n", ""},
		{"cue closed", "x.cue", "unknown_field: 1\n", ""},
		{"format", "x.json", "{}", "unsupported"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.data), tt.path)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestFindConfigWalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := filepath.Join(root, "lunar.toml")
	if err := os.WriteFile(cfg, []byte("dialect = \"5.2\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	found, err := FindConfig(nested)
	if err != nil {
		t.Fatalf("FindConfig: %v", err)
	}
	if found != cfg {
		t.Fatalf("found %q, want %q", found, cfg)
	}

	opts, err := LoadConfig(found)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if opts.DialectValue() != Lua52 {
		t.Errorf("dialect = %v", opts.DialectValue())
	}
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		in   string
		want Dialect
		ok   bool
	}{
		{"5.2", Lua52, true},
		{"53", Lua53, true},
		{"Lua 5.4", Lua54, true},
		{"lua55", Lua55, true},
		{"", Lua54, true},
		{"5.1", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseDialect(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseDialect(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
	if !Lua53.SupportsBitwise() || Lua52.SupportsBitwise() {
		t.Error("bitwise gating wrong")
	}
	if !Lua53.LeFallsBackToLt() || Lua54.LeFallsBackToLt() {
		t.Error("__le fallback gating wrong")
	}
}
