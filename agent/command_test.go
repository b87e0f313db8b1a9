package agent

import (
	"slices"
	"testing"

	"github.com/coterm/coterm-core/config"
)

func TestCommandFor(t *testing.T) {
	temp := 0.5

	tests := []struct {
		name       string
		cfg        config.SessionConfig
		wantBinary string
		wantArg    string
		wantErr    bool
	}{
		{
			name:       "anthropic",
			cfg:        config.SessionConfig{Provider: "anthropic", Model: "claude-sonnet-4-5"},
			wantBinary: "claude",
			wantArg:    "--session-id",
		},
		{
			name:       "openai",
			cfg:        config.SessionConfig{Provider: "openai", Model: "gpt-5"},
			wantBinary: "codex",
			wantArg:    "--json",
		},
		{
			name:       "local with temperature",
			cfg:        config.SessionConfig{Provider: "local", Model: "llama3", Temperature: &temp},
			wantBinary: "ollama",
			wantArg:    "--temperature",
		},
		{
			name:    "unknown provider",
			cfg:     config.SessionConfig{Provider: "mystery", Model: "m"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			binary, args, err := CommandFor(tt.cfg, "sess-1")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("CommandFor failed: %v", err)
			}
			if binary != tt.wantBinary {
				t.Errorf("binary = %q, want %q", binary, tt.wantBinary)
			}
			if !slices.Contains(args, tt.wantArg) {
				t.Errorf("args %v missing %q", args, tt.wantArg)
			}
			if !slices.Contains(args, tt.cfg.Model) {
				t.Errorf("args %v missing model %q", args, tt.cfg.Model)
			}
		})
	}
}
