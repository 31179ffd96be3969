// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/jllopis/kairos-analyst/pkg/mcp"
	"github.com/jllopis/kairos-analyst/pkg/skills"
)

// console is what the interactive session drives.
type console interface {
	Ask(ctx context.Context, query string) string
	Reset(ctx context.Context) bool
	Skills() []string
	Logs() string
	ReloadSkills() (skills.Catalog, error)
	AddSkill(name, description string) (skills.Catalog, error)
	Tools(ctx context.Context) []mcp.ServerTools
}

type repl struct {
	console console
	in      io.Reader
	out     io.Writer
	name    string
}

const replHelp = `Commands:
  /reset                 clear the conversation
  /skills                list skills loaded in this conversation
  /reload                re-read the skills directory
  /add-skill [name] [description...]
                         create a skill and announce it to the agent
  /tools                 list tools exposed by the MCP servers
  /logs                  print the interaction log
  /help                  show this help
  /quit                  leave`

func (r *repl) run(ctx context.Context) error {
	name := r.name
	if name == "" {
		name = "analyst"
	}
	fmt.Fprintf(r.out, "%s ready. Type /help for commands.\n", name)

	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			fmt.Fprintf(r.out, "%s: %s\n", name, r.console.Ask(ctx, line))
			continue
		}
		if quit := r.command(ctx, line); quit {
			return nil
		}
	}
}

func (r *repl) command(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(r.out, replHelp)
	case "/reset":
		if r.console.Reset(ctx) {
			fmt.Fprintln(r.out, "conversation cleared")
		} else {
			fmt.Fprintln(r.out, "could not clear the conversation, see the logs")
		}
	case "/skills":
		loaded := r.console.Skills()
		if len(loaded) == 0 {
			fmt.Fprintln(r.out, "no skills loaded yet")
			break
		}
		fmt.Fprintln(r.out, "loaded skills: "+strings.Join(loaded, ", "))
	case "/reload":
		catalog, err := r.console.ReloadSkills()
		if err != nil {
			fmt.Fprintf(r.out, "reload failed: %v\n", err)
			break
		}
		fmt.Fprintf(r.out, "%d skills available: %s\n", len(catalog.Names), strings.Join(catalog.Names, ", "))
	case "/add-skill":
		skillName := "custom-skill-" + uuid.NewString()[:8]
		if len(fields) > 1 {
			skillName = fields[1]
		}
		description := "Custom skill " + skillName
		if len(fields) > 2 {
			description = strings.Join(fields[2:], " ")
		}
		catalog, err := r.console.AddSkill(skillName, description)
		if err != nil {
			fmt.Fprintf(r.out, "add skill failed: %v\n", err)
			break
		}
		fmt.Fprintf(r.out, "skill %s added, %d skills available\n", skillName, len(catalog.Names))
	case "/tools":
		w := newTabWriter(r.out)
		writeRow(w, "SERVER", "TOOL", "DESCRIPTION")
		for _, st := range r.console.Tools(ctx) {
			if st.Err != nil {
				writeRow(w, st.Name, "ERROR", st.Err.Error())
				continue
			}
			for _, tool := range st.Tools {
				writeRow(w, st.Name, tool.Name, tool.Description)
			}
		}
		_ = w.Flush()
	case "/logs":
		logs := r.console.Logs()
		if logs == "" {
			fmt.Fprintln(r.out, "no interactions logged yet")
			break
		}
		fmt.Fprint(r.out, logs)
	default:
		fmt.Fprintf(r.out, "unknown command %s, type /help\n", fields[0])
	}
	return false
}
