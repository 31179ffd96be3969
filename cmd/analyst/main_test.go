// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"net"
	"strings"
	"testing"

	"github.com/jllopis/kairos-analyst/pkg/errors"
)

func TestParseGlobalFlags(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantFlags globalFlags
		wantArgs  []string
		wantErr   bool
	}{
		{
			name:     "command only",
			args:     []string{"chat"},
			wantArgs: []string{"chat"},
		},
		{
			name: "config and overrides",
			args: []string{"--config", "cfg.yaml", "--set", "llm.model=x", "--set=agent.max_turns=3", "ask", "hello", "world"},
			wantFlags: globalFlags{
				ConfigPath: "cfg.yaml",
				Overrides:  []string{"llm.model=x", "agent.max_turns=3"},
			},
			wantArgs: []string{"ask", "hello", "world"},
		},
		{
			name:      "json and config equals",
			args:      []string{"--json", "--config=a.yaml", "status"},
			wantFlags: globalFlags{ConfigPath: "a.yaml", JSON: true},
			wantArgs:  []string{"status"},
		},
		{
			name:      "help stops parsing",
			args:      []string{"-h", "chat"},
			wantFlags: globalFlags{Help: true},
		},
		{
			name:     "double dash",
			args:     []string{"--", "--json"},
			wantArgs: []string{"--json"},
		},
		{name: "missing config value", args: []string{"--config"}, wantErr: true},
		{name: "missing set value", args: []string{"--set"}, wantErr: true},
		{name: "unknown flag", args: []string{"--verbose", "chat"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags, args, err := parseGlobalFlags(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if flags.ConfigPath != tt.wantFlags.ConfigPath || flags.JSON != tt.wantFlags.JSON || flags.Help != tt.wantFlags.Help {
				t.Errorf("flags = %+v, want %+v", flags, tt.wantFlags)
			}
			if strings.Join(flags.Overrides, "|") != strings.Join(tt.wantFlags.Overrides, "|") {
				t.Errorf("overrides = %v, want %v", flags.Overrides, tt.wantFlags.Overrides)
			}
			if strings.Join(args, " ") != strings.Join(tt.wantArgs, " ") {
				t.Errorf("args = %v, want %v", args, tt.wantArgs)
			}
		})
	}
}

func TestCheckHTTP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	if !checkHTTP("http://" + ln.Addr().String() + "/sse") {
		t.Error("expected listening server to be reachable")
	}
	if checkHTTP("not a url") {
		t.Error("expected invalid url to be unreachable")
	}
	if checkHTTP("http://127.0.0.1:1/sse") {
		t.Error("expected closed port to be unreachable")
	}
}

func TestNormalizeCell(t *testing.T) {
	if got := normalizeCell("  "); got != "-" {
		t.Errorf("empty cell = %q", got)
	}
	if got := normalizeCell("get industry\n  data"); got != "get industry data" {
		t.Errorf("cell = %q", got)
	}
}

func TestUniqueStrings(t *testing.T) {
	got := uniqueStrings([]string{"deep_analysis", " ", "industry_query", "deep_analysis"})
	if strings.Join(got, ",") != "deep_analysis,industry_query" {
		t.Errorf("unexpected %v", got)
	}
}

func TestCLIErrorOutput(t *testing.T) {
	cliErr := NewConfigError(stderrors.New("yaml: line 3"), "config.yaml")

	var text bytes.Buffer
	cliErr.write(&text, false)
	if !strings.Contains(text.String(), "Error [INVALID_INPUT]: configuration error: yaml: line 3") {
		t.Errorf("unexpected text output %q", text.String())
	}
	if !strings.Contains(text.String(), "Hint: check config.yaml") {
		t.Errorf("missing hint in %q", text.String())
	}

	var js bytes.Buffer
	cliErr.write(&js, true)
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Hint    string `json:"hint"`
		} `json:"error"`
	}
	if err := json.Unmarshal(js.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json %q: %v", js.String(), err)
	}
	if payload.Error.Code != "INVALID_INPUT" || payload.Error.Hint == "" {
		t.Errorf("unexpected payload %+v", payload)
	}
	if !errors.HasCode(cliErr, errors.CodeInvalidInput) {
		t.Error("CLIError must unwrap to its cause")
	}
}

func TestStartupErrorKeepsCode(t *testing.T) {
	cause := errors.New(errors.CodeMemoryError, "open session", nil)
	cliErr := NewStartupError(cause)
	if cliErr.Cause.Code != errors.CodeMemoryError {
		t.Errorf("code = %s", cliErr.Cause.Code)
	}
	if !strings.Contains(cliErr.Hint, "writable") {
		t.Errorf("hint = %q", cliErr.Hint)
	}
	if NewStartupError(stderrors.New("boom")).Cause.Code != errors.CodeInternal {
		t.Error("untyped errors map to INTERNAL_ERROR")
	}
}

func TestPrintSimpleErrorJSON(t *testing.T) {
	var buf bytes.Buffer
	printSimpleError(&buf, errors.New(errors.CodeNotFound, `no server "x"`, nil), true)
	if !strings.Contains(buf.String(), `"code":"NOT_FOUND"`) {
		t.Errorf("unexpected %q", buf.String())
	}
	if !json.Valid(bytes.TrimSpace(buf.Bytes())) {
		t.Errorf("invalid json %q", buf.String())
	}
}
