// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jllopis/kairos-analyst/pkg/config"
	"github.com/jllopis/kairos-analyst/pkg/interaction"
	"github.com/jllopis/kairos-analyst/pkg/skills"
	"github.com/jllopis/kairos-analyst/pkg/telemetry"
	"github.com/jllopis/kairos-analyst/pkg/toolserver"
)

var version = "dev"

type globalFlags struct {
	ConfigPath string
	Overrides  []string
	JSON       bool
	Help       bool
}

type statusResult struct {
	Version    string         `json:"version"`
	ConfigPath string         `json:"config_path_used,omitempty"`
	Provider   string         `json:"provider"`
	Model      string         `json:"model"`
	Session    string         `json:"session"`
	Servers    []serverStatus `json:"servers"`
}

type serverStatus struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	Reachable bool   `json:"reachable"`
}

type toolRow struct {
	Server      string `json:"server"`
	Tool        string `json:"tool,omitempty"`
	Description string `json:"description,omitempty"`
	Error       string `json:"error,omitempty"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(NewInvalidArgumentError("flags", err.Error()), global.JSON)
	}
	if global.Help || len(args) == 0 {
		printUsage()
		return
	}

	cmd := args[0]
	switch cmd {
	case "help":
		printUsage()
		return
	case "version":
		printVersion()
		return
	}

	cfg, err := config.LoadWithOverrides(global.ConfigPath, global.Overrides)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fatal(NewConfigError(err, global.ConfigPath), global.JSON)
	}

	switch cmd {
	case "chat":
		ensureNoArgs(args[1:], global.JSON)
		runChat(ctx, global, cfg)
	case "ask":
		runAsk(ctx, global, cfg, args[1:])
	case "serve-tools":
		runServeTools(ctx, global, cfg, args[1:])
	case "tools":
		ensureNoArgs(args[1:], global.JSON)
		runTools(ctx, global, cfg)
	case "logs":
		ensureNoArgs(args[1:], global.JSON)
		runLogs(ctx, global, cfg)
	case "reset":
		ensureNoArgs(args[1:], global.JSON)
		runReset(ctx, global, cfg)
	case "skills":
		runSkills(global, cfg, args[1:])
	case "status":
		ensureNoArgs(args[1:], global.JSON)
		runStatus(global, cfg)
	default:
		fatal(NewInvalidArgumentError("command", fmt.Sprintf("unknown command %q", cmd)), global.JSON)
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	var flags globalFlags
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--json":
			flags.JSON = true
		case arg == "--config":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --config")
			}
			flags.ConfigPath = args[i+1]
			i++
		case strings.HasPrefix(arg, "--config="):
			flags.ConfigPath = strings.TrimPrefix(arg, "--config=")
		case arg == "--set":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --set")
			}
			flags.Overrides = append(flags.Overrides, args[i+1])
			i++
		case strings.HasPrefix(arg, "--set="):
			flags.Overrides = append(flags.Overrides, strings.TrimPrefix(arg, "--set="))
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

func startApp(ctx context.Context, flags globalFlags, cfg *config.Config) *app {
	a, err := newApp(ctx, cfg)
	if err != nil {
		fatal(NewStartupError(err), flags.JSON)
	}
	return a
}

func runChat(ctx context.Context, flags globalFlags, cfg *config.Config) {
	a := startApp(ctx, flags, cfg)
	defer a.close(context.Background())

	if cfg.Skills.Watch > 0 {
		watcher, err := newSkillWatcher(flags, cfg, a)
		if err != nil {
			a.logger.Warn("skills.watch_disabled", "error", err)
		} else {
			watcher.Start(ctx)
			defer watcher.Stop()
		}
	}

	r := &repl{console: a, in: os.Stdin, out: os.Stdout, name: cfg.Agent.Name}
	if err := r.run(ctx); err != nil {
		fatal(err, flags.JSON)
	}
}

func newSkillWatcher(flags globalFlags, cfg *config.Config, a *app) (*config.Watcher, error) {
	w, err := config.NewWatcher(flags.ConfigPath,
		config.WithWatchInterval(cfg.Skills.Watch),
		config.WithWatchPaths(cfg.Skills.Path),
		config.WithWatchOverrides(flags.Overrides),
		config.WithWatchLogger(a.logger),
	)
	if err != nil {
		return nil, err
	}
	w.OnChange(func(*config.Config) {
		catalog, err := a.ReloadSkills()
		if err != nil {
			a.logger.Warn("skills.reload_error", "error", err)
			return
		}
		a.logger.Info("skills.reloaded", "skills", catalog.Names)
	})
	return w, nil
}

func runAsk(ctx context.Context, flags globalFlags, cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		fatal(NewInvalidArgumentError("ask", err.Error()), flags.JSON)
	}
	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		fatal(NewInvalidArgumentError("query", "usage: analyst ask <query>"), flags.JSON)
	}

	a := startApp(ctx, flags, cfg)
	defer a.close(context.Background())

	answer := a.Ask(ctx, query)
	if flags.JSON {
		printJSON(map[string]string{"session": a.orch.SessionID(), "response": answer})
		return
	}
	fmt.Println(answer)
}

// runServeTools hosts the built-in tool servers named in args, or every
// server under toolservers when none are given.
func runServeTools(ctx context.Context, flags globalFlags, cfg *config.Config, args []string) {
	names := uniqueStrings(args)
	if len(names) == 0 {
		for name := range cfg.ToolServers {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	if len(names) == 0 {
		fatal(NewInvalidArgumentError("serve-tools", "no tool servers configured"), flags.JSON)
	}

	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		srv, err := toolserver.New(name)
		if err != nil {
			fatal(err, flags.JSON)
		}
		sc, ok := cfg.ToolServers[name]
		if !ok || sc.Addr == "" {
			fatal(NewInvalidArgumentError(name, "no listen address under toolservers."+name+".addr"), flags.JSON)
		}
		g.Go(func() error {
			if err := toolserver.Serve(gctx, srv, sc.Transport, sc.Addr); err != nil {
				logger.Error("toolserver.failed", "server", name, "addr", sc.Addr, "error", err)
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		fatal(err, flags.JSON)
	}
}

func runTools(ctx context.Context, flags globalFlags, cfg *config.Config) {
	if len(cfg.MCP.Servers) == 0 {
		fmt.Println("no mcp servers configured")
		return
	}
	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	reg := newRegistry(cfg, nil, logger, nil)
	scope := reg.Open(ctx)
	defer scope.Close()

	var rows []toolRow
	for _, st := range scope.ListTools(ctx) {
		if st.Err != nil {
			rows = append(rows, toolRow{Server: st.Name, Error: st.Err.Error()})
			continue
		}
		for _, tool := range st.Tools {
			rows = append(rows, toolRow{Server: st.Name, Tool: tool.Name, Description: tool.Description})
		}
	}

	if flags.JSON {
		printJSON(rows)
		return
	}
	writer := newTabWriter(os.Stdout)
	writeRow(writer, "SERVER", "TOOL", "DESCRIPTION")
	for _, row := range rows {
		if row.Error != "" {
			writeRow(writer, row.Server, "ERROR", row.Error)
			continue
		}
		writeRow(writer, row.Server, row.Tool, row.Description)
	}
	_ = writer.Flush()
}

func runLogs(_ context.Context, flags globalFlags, cfg *config.Config) {
	text := readInteractionLog(cfg.InteractionLog.Path)
	if flags.JSON {
		printJSON(map[string]string{"path": cfg.InteractionLog.Path, "log": text})
		return
	}
	fmt.Print(text)
}

func runReset(ctx context.Context, flags globalFlags, cfg *config.Config) {
	session, err := openSession(ctx, cfg.Session)
	if err != nil {
		fatal(err, flags.JSON)
	}
	defer session.Close()
	if err := session.Reset(ctx); err != nil {
		fatal(err, flags.JSON)
	}
	if flags.JSON {
		printJSON(map[string]string{"session": session.ID, "status": "reset"})
		return
	}
	fmt.Printf("session %s cleared\n", session.ID)
}

func runSkills(flags globalFlags, cfg *config.Config, args []string) {
	if len(args) == 0 {
		args = []string{"list"}
	}
	switch args[0] {
	case "list":
		ensureNoArgs(args[1:], flags.JSON)
		specs, err := skills.LoadDir(cfg.Skills.Path)
		if err != nil {
			fatal(err, flags.JSON)
		}
		printSkills(flags, specs)
	case "add":
		fs := flag.NewFlagSet("skills add", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		description := fs.String("description", "", "skill description")
		if err := fs.Parse(args[1:]); err != nil {
			fatal(NewInvalidArgumentError("skills add", err.Error()), flags.JSON)
		}
		if fs.NArg() != 1 {
			fatal(NewInvalidArgumentError("name", "usage: analyst skills add <name> [--description text]"), flags.JSON)
		}
		name := fs.Arg(0)
		desc := *description
		if desc == "" {
			desc = "Skill " + name
		}
		catalog, err := skills.Add(cfg.Skills.Path, name, desc, "")
		if err != nil {
			fatal(err, flags.JSON)
		}
		if flags.JSON {
			printJSON(map[string]any{"added": name, "skills": catalog.Names})
			return
		}
		fmt.Printf("skill %s added (%d skills available)\n", name, len(catalog.Names))
	default:
		fatal(NewInvalidArgumentError("skills", fmt.Sprintf("unknown skills command %q", args[0])), flags.JSON)
	}
}

func printSkills(flags globalFlags, specs []skills.SkillSpec) {
	if flags.JSON {
		printJSON(specs)
		return
	}
	if len(specs) == 0 {
		fmt.Println("no skills found")
		return
	}
	writer := newTabWriter(os.Stdout)
	writeRow(writer, "NAME", "DESCRIPTION")
	for _, spec := range specs {
		writeRow(writer, spec.Name, spec.Description)
	}
	_ = writer.Flush()
}

func runStatus(flags globalFlags, cfg *config.Config) {
	result := statusResult{
		Version:    version,
		ConfigPath: flags.ConfigPath,
		Provider:   cfg.LLM.Provider,
		Model:      cfg.LLM.Model,
		Session:    cfg.Session.ID,
	}
	names := make([]string, 0, len(cfg.MCP.Servers))
	for name := range cfg.MCP.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		srv := cfg.MCP.Servers[name]
		result.Servers = append(result.Servers, serverStatus{
			Name:      name,
			URL:       srv.URL,
			Reachable: checkHTTP(srv.URL),
		})
	}

	if flags.JSON {
		printJSON(result)
		return
	}
	writer := newTabWriter(os.Stdout)
	writeRow(writer, "VERSION", result.Version)
	writeRow(writer, "PROVIDER", result.Provider+"/"+result.Model)
	writeRow(writer, "SESSION", result.Session)
	for _, srv := range result.Servers {
		state := "offline"
		if srv.Reachable {
			state = "online"
		}
		writeRow(writer, "MCP "+srv.Name, srv.URL, state)
	}
	_ = writer.Flush()
}

func readInteractionLog(path string) string {
	text := interaction.New(path).Read()
	if text == "" {
		return "no interactions logged yet\n"
	}
	return text
}

func checkTCP(addr string) bool {
	if strings.TrimSpace(addr) == "" {
		return false
	}
	conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func checkHTTP(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := parsed.Host
	if host == "" {
		return false
	}
	if parsed.Port() == "" {
		if parsed.Scheme == "https" {
			host += ":443"
		} else {
			host += ":80"
		}
	}
	return checkTCP(host)
}

func printJSON(value any) {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		fatal(err, false)
	}
	fmt.Println(string(payload))
}

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
}

func writeRow(writer *tabwriter.Writer, cols ...string) {
	for i, col := range cols {
		cols[i] = normalizeCell(col)
	}
	fmt.Fprintln(writer, strings.Join(cols, "\t"))
}

func normalizeCell(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return strings.Join(strings.Fields(value), " ")
}

func uniqueStrings(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func printVersion() {
	fmt.Println(version)
}

func printUsage() {
	fmt.Println(`Industry analyst

Usage:
  analyst [global flags] <command> [args]

Global flags:
  --config <path>      Path to config.yaml
  --set key=value      Override config (repeatable)
  --json               JSON output

Commands:
  chat                          Interactive session
  ask <query>                   Answer a single query
  serve-tools [name...]         Run the built-in MCP tool servers
  tools                         List tools exposed by the configured servers
  logs                          Print the interaction log
  reset                         Clear the persisted session
  skills list
  skills add <name> [--description text]
  status                        Show configuration and server reachability
  version`)
}

func fatal(err error, asJSON bool) {
	if cliErr, ok := err.(*CLIError); ok {
		cliErr.PrintError(asJSON)
	} else {
		PrintSimpleError(err, asJSON)
	}
	os.Exit(1)
}

func ensureNoArgs(args []string, asJSON bool) {
	if len(args) > 0 {
		fatal(NewInvalidArgumentError("args", fmt.Sprintf("unexpected args: %v", args)), asJSON)
	}
}
