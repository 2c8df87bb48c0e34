package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/shiva/internal/chat"
	"github.com/ChamsBouzaiene/shiva/internal/engine"
	"github.com/ChamsBouzaiene/shiva/internal/extract"
	"github.com/ChamsBouzaiene/shiva/internal/providers"
	"github.com/ChamsBouzaiene/shiva/internal/session"
)

// errQuit ends the REPL loop.
var errQuit = errors.New("quit")

type replCommand struct {
	name  string
	usage string
	help  string
	run   func(r *repl, ctx context.Context, arg string) error
}

type repl struct {
	env *runtimeEnv
	app *chat.App
	out io.Writer
}

var replCommands []replCommand

func init() {
	replCommands = []replCommand{
		{"new", "", "start a new chat", (*repl).cmdNew},
		{"list", "[filter]", "list chats, newest first", (*repl).cmdList},
		{"switch", "<id>", "switch to a chat by id prefix", (*repl).cmdSwitch},
		{"delete", "<id>", "delete a chat", (*repl).cmdDelete},
		{"attach", "<path>", "attach a file to this chat", (*repl).cmdAttach},
		{"files", "", "list attached files", (*repl).cmdFiles},
		{"remove", "<name>", "detach a file", (*repl).cmdRemove},
		{"clear", "", "detach all files", (*repl).cmdClear},
		{"provider", "[name]", "show or switch the provider", (*repl).cmdProvider},
		{"search", "<text>", "search all chats", (*repl).cmdSearch},
		{"voice", "<path>", "transcribe a recording and send it", (*repl).cmdVoice},
		{"export", "<json|yaml|md> [path]", "export this chat", (*repl).cmdExport},
		{"help", "", "show commands", (*repl).cmdHelp},
		{"quit", "", "leave", func(*repl, context.Context, string) error { return errQuit }},
	}
}

func runREPL(ctx context.Context, env *runtimeEnv, in io.Reader, out io.Writer) error {
	r := &repl{env: env, app: env.App, out: out}
	r.banner()

	s := bufio.NewScanner(in)
	s.Buffer(make([]byte, 64*1024), 1<<20)
	for {
		fmt.Fprint(out, promptStyle.Render("you> "))
		if !s.Scan() {
			break
		}
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}

		var err error
		if strings.HasPrefix(line, "/") {
			err = r.dispatch(ctx, line)
		} else {
			err = r.send(ctx, line)
		}
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintln(out, errorStyle.Render("error: "+err.Error()))
		}
		fmt.Fprintln(out)
	}
	return s.Err()
}

func (r *repl) banner() {
	current := r.app.Sessions().Current()
	fmt.Fprintln(r.out, headerStyle.Render("Shiva"))
	fmt.Fprintf(r.out, "provider %s · chat %s %s · /help for commands\n",
		titleStyle.Render(string(r.app.Provider())),
		idStyle.Render(shortID(current.ID)),
		current.Title,
	)
	for _, w := range r.env.Warnings {
		fmt.Fprintln(r.out, warnStyle.Render("! "+w))
	}
	fmt.Fprintln(r.out)
}

func (r *repl) dispatch(ctx context.Context, line string) error {
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)
	for _, c := range replCommands {
		if c.name == name {
			return c.run(r, ctx, arg)
		}
	}
	if name == "exit" {
		return errQuit
	}
	return fmt.Errorf("unknown command /%s (try /help)", name)
}

func (r *repl) send(ctx context.Context, text string) error {
	start := time.Now()
	reply, err := r.app.Send(ctx, text)
	if err != nil {
		return err
	}

	style := assistantStyle
	if !reply.Completion.OK() {
		style = warnStyle
	}
	fmt.Fprintln(r.out, style.Render(reply.Text))

	meta := fmt.Sprintf("%s · %s", reply.Completion.Provider, time.Since(start).Round(10*time.Millisecond))
	if reply.Completion.Continued {
		meta += " · continued"
	}
	if reply.AudioRef != "" {
		meta += " · audio " + reply.AudioRef
	}
	fmt.Fprintln(r.out, dateStyle.Render(meta))
	return nil
}

func (r *repl) cmdNew(context.Context, string) error {
	s := r.app.NewSession()
	fmt.Fprintf(r.out, "started %s\n", idStyle.Render(shortID(s.ID)))
	return nil
}

func (r *repl) cmdList(_ context.Context, filter string) error {
	printSessions(r.out, r.app.Sessions().Meta(filter), r.app.Sessions().CurrentID())
	return nil
}

func (r *repl) cmdSwitch(_ context.Context, arg string) error {
	s, err := r.app.SwitchSession(arg)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "switched to %s %s\n", idStyle.Render(shortID(s.ID)), s.Title)
	for _, m := range lastTurns(s, 4) {
		fmt.Fprintf(r.out, "%s %s\n", titleStyle.Render(string(m.Role)+":"), oneLine(m.Content, 100))
	}
	return nil
}

func (r *repl) cmdDelete(_ context.Context, arg string) error {
	ok, err := r.app.DeleteSession(arg)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(r.out, warnStyle.Render("the last chat cannot be deleted"))
		return nil
	}
	fmt.Fprintf(r.out, "deleted, active chat is %s\n", idStyle.Render(shortID(r.app.Sessions().CurrentID())))
	return nil
}

func (r *repl) cmdAttach(_ context.Context, path string) error {
	if path == "" {
		return errors.New("usage: /attach <path>")
	}
	res, err := r.app.AttachPath(expandHome(path))
	if err != nil {
		return err
	}
	if !res.Attached {
		fmt.Fprintf(r.out, "%s is already attached\n", res.File.Filename)
		return nil
	}
	fmt.Fprintf(r.out, "attached %s (%s, %s)\n", res.File.Filename, res.File.Type, extract.HumanSize(res.File.Size))
	switch {
	case res.AsText:
		fmt.Fprintln(r.out, warnStyle.Render("unknown type, attached as plain text"))
	case !res.Supported:
		caps := r.app.Capabilities()
		supported := extract.Supported(extract.Features{PDF: caps.PDF, DOCX: caps.DOCX})
		fmt.Fprintln(r.out, warnStyle.Render("unsupported type, only a placeholder was attached ("+strings.Join(supported, " ")+")"))
	}
	return nil
}

func (r *repl) cmdFiles(context.Context, string) error {
	files := r.app.Sessions().Current().Files
	if len(files) == 0 {
		fmt.Fprintln(r.out, "no files attached")
		return nil
	}
	for _, f := range files {
		fmt.Fprintf(r.out, "%s  %s  %s\n", titleStyle.Render(f.Filename), f.Type, countStyle.Render(extract.HumanSize(f.Size)))
	}
	return nil
}

func (r *repl) cmdRemove(_ context.Context, name string) error {
	if r.app.RemoveFile(name) {
		fmt.Fprintf(r.out, "removed %s\n", name)
	} else {
		fmt.Fprintf(r.out, "%s is not attached\n", name)
	}
	return nil
}

func (r *repl) cmdClear(context.Context, string) error {
	fmt.Fprintf(r.out, "removed %d file(s)\n", r.app.ClearFiles())
	return nil
}

func (r *repl) cmdProvider(_ context.Context, name string) error {
	if name == "" {
		fmt.Fprintf(r.out, "current: %s\n", titleStyle.Render(string(r.app.Provider())))
		fmt.Fprintln(r.out, "available:")
		for _, p := range r.app.Providers() {
			fmt.Fprintf(r.out, "  %s\n", p)
		}
		return nil
	}
	id, err := providers.ParseProviderID(name)
	if err != nil {
		return err
	}
	if err := r.app.SetProvider(id); err != nil {
		return fmt.Errorf("%w (set %s_API_KEY)", err, providers.EnvPrefix(id))
	}
	fmt.Fprintf(r.out, "now using %s\n", titleStyle.Render(string(id)))
	return nil
}

func (r *repl) cmdSearch(_ context.Context, query string) error {
	if query == "" {
		return errors.New("usage: /search <text>")
	}
	results, err := r.app.Search(query)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintln(r.out, "no matches")
		return nil
	}
	for _, res := range results {
		fmt.Fprintf(r.out, "%s %s\n  %s\n", idStyle.Render(shortID(res.SessionID)), titleStyle.Render(res.Title), res.Snippet)
	}
	return nil
}

func (r *repl) cmdVoice(ctx context.Context, path string) error {
	if path == "" {
		return errors.New("usage: /voice <path>")
	}
	text, err := r.app.Transcribe(ctx, expandHome(path))
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s %s\n", promptStyle.Render("heard:"), text)
	return r.send(ctx, text)
}

func (r *repl) cmdExport(_ context.Context, arg string) error {
	fields := strings.Fields(arg)
	if len(fields) == 0 {
		return errors.New("usage: /export <json|yaml|md> [path]")
	}

	var buf strings.Builder
	name, err := r.app.Export("", fields[0], &buf)
	if err != nil {
		return err
	}
	path := name
	if len(fields) > 1 {
		path = expandHome(fields[1])
	}
	if err := os.WriteFile(path, []byte(buf.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	fmt.Fprintf(r.out, "exported to %s\n", path)
	return nil
}

func (r *repl) cmdHelp(context.Context, string) error {
	cmds := append([]replCommand(nil), replCommands...)
	sort.SliceStable(cmds, func(i, j int) bool { return cmds[i].name < cmds[j].name })
	for _, c := range cmds {
		fmt.Fprintf(r.out, "  %-28s %s\n", "/"+strings.TrimSpace(c.name+" "+c.usage), c.help)
	}
	fmt.Fprintln(r.out, "anything else is sent as a message")
	return nil
}

func lastTurns(s *session.Session, n int) []session.Message {
	var turns []session.Message
	for _, m := range s.Messages {
		if m.Role != engine.RoleSystem {
			turns = append(turns, m)
		}
	}
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return turns
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return s
}

func expandHome(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return path
}
