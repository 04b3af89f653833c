package repl

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"weave/internal/auth"
	"weave/internal/chat"
	"weave/internal/folder"
	"weave/internal/tui"
)

func (l *Loop) current() (chat.Session, bool) {
	cur, ok := l.app.Store.Current()
	if !ok {
		l.println(l.t.T("session.none"))
	}
	return cur, ok
}

func (l *Loop) list(ctx context.Context) error {
	sessions, err := l.app.Store.List(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		l.println(l.t.T("session.empty"))
		return nil
	}
	cur := l.app.Store.CurrentID()
	for _, s := range sessions {
		mark := " "
		if s.ID == cur {
			mark = "*"
		}
		l.println(mark + " " + tui.SessionLine(s))
	}
	return nil
}

func (l *Loop) newSession(ctx context.Context, args string) error {
	kindArg, title, _ := strings.Cut(args, " ")
	if kindArg == "" {
		l.usage("/new chat|image [title]")
		return nil
	}
	kind, err := chat.ParseKind(kindArg)
	if err != nil {
		return err
	}
	s, err := l.app.Store.Create(ctx, kind, strings.TrimSpace(title))
	if err != nil {
		return err
	}
	l.println(l.t.T("session.created", kind, s.ID))
	return nil
}

func (l *Loop) open(ctx context.Context, id string) error {
	if id == "" {
		l.usage("/open <id>")
		return nil
	}
	s, err := l.app.Store.Select(ctx, id)
	if err != nil {
		return err
	}
	l.println(l.t.T("session.opened", tui.SessionLine(s)))
	return l.show()
}

func (l *Loop) show() error {
	cur, ok := l.current()
	if !ok {
		return nil
	}
	l.println(tui.RenderSession(cur, l.opts.Theme, l.renderOptions()))
	for _, p := range cur.RecommendedPrompts {
		l.println(l.opts.Theme.MutedStyle.Render("  · " + p))
	}
	return nil
}

// rename goes through the debounced edit path; rapid renames coalesce into
// one remote write.
func (l *Loop) rename(title string) error {
	if title == "" {
		l.usage("/rename <title>")
		return nil
	}
	cur, ok := l.current()
	if !ok {
		return nil
	}
	if err := l.app.Store.Edit(cur.ID, chat.Patch{Title: chat.String(title)}); err != nil {
		return err
	}
	l.println(l.t.T("session.renamed", title))
	return nil
}

func (l *Loop) model(ctx context.Context, id string) error {
	cur, ok := l.current()
	if !ok {
		return nil
	}
	catalog := chat.Models(cur.Kind)
	if id == "" {
		active := cur.Model
		if active == "" {
			active = chat.DefaultModel(cur.Kind)
		}
		for _, m := range catalog {
			mark := " "
			if m.ID == active {
				mark = "*"
			}
			l.println(fmt.Sprintf("%s %-28s %s", mark, m.ID, l.opts.Theme.MutedStyle.Render(m.Description)))
		}
		return nil
	}
	if _, kind, found := chat.LookupModel(id); !found || kind != cur.Kind {
		ids := make([]string, 0, len(catalog))
		for _, m := range catalog {
			ids = append(ids, m.ID)
		}
		l.println(l.t.T("session.model_unknown", cur.Kind, id, strings.Join(ids, ", ")))
		return nil
	}
	if _, err := l.app.Store.Patch(ctx, cur.ID, chat.Patch{Model: chat.String(id)}); err != nil {
		return err
	}
	l.println(l.t.T("session.model_set", id))
	return nil
}

func (l *Loop) instruction(ctx context.Context, text string) error {
	cur, ok := l.current()
	if !ok {
		return nil
	}
	if _, err := l.app.Store.Patch(ctx, cur.ID, chat.Patch{Instruction: chat.String(text)}); err != nil {
		return err
	}
	l.println(l.t.T("session.instruction_set"))
	return nil
}

func (l *Loop) deleteSession(ctx context.Context, id string) error {
	if id == "" {
		l.usage("/delete <id>")
		return nil
	}
	if err := l.app.Store.Delete(ctx, id); err != nil {
		return err
	}
	l.println(l.t.T("session.deleted", id))
	return nil
}

// image takes an optional trailing aspect ratio: /image a red fox 16:9
func (l *Loop) image(ctx context.Context, args string) error {
	if args == "" {
		l.usage("/image <prompt> [" + strings.Join(chat.AspectRatios, "|") + "]")
		return nil
	}
	prompt, ratio := args, ""
	if i := strings.LastIndexByte(args, ' '); i > 0 && slices.Contains(chat.AspectRatios, args[i+1:]) {
		prompt, ratio = strings.TrimSpace(args[:i]), args[i+1:]
	}
	return l.submit(ctx, chat.KindImage, prompt, ratio, false)
}

func (l *Loop) folders() {
	list := l.app.Folders.Folders()
	if len(list) == 0 {
		l.println(l.t.T("folder.empty"))
		return
	}
	for _, f := range list {
		l.println(l.opts.Theme.TitleStyle.Render(fmt.Sprintf("%s  %s  [%s]  %d", f.ID, f.Name, f.Type, len(f.SessionIDs))))
		for _, s := range l.app.Folders.Sessions(f.ID) {
			l.println("    " + tui.SessionLine(s))
		}
	}
}

func (l *Loop) folder(ctx context.Context, args string) error {
	sub, arg, _ := strings.Cut(args, " ")
	arg = strings.TrimSpace(arg)
	switch {
	case sub == "new" && arg != "":
		f, err := l.app.Folders.CreateFolder(ctx, arg)
		if err != nil {
			return err
		}
		l.println(l.t.T("folder.created", f.Name+" ("+f.ID+")"))
	case sub == "rm" && arg != "":
		if err := l.app.Folders.DeleteFolder(ctx, arg); err != nil {
			return err
		}
		l.println(l.t.T("folder.deleted", arg))
	default:
		l.usage("/folder new <name> | /folder rm <id>")
	}
	return nil
}

func (l *Loop) move(folderID string) error {
	if folderID == "" {
		l.usage("/move <folder-id>")
		return nil
	}
	cur, ok := l.current()
	if !ok {
		return nil
	}
	if err := l.app.Folders.AddSession(folderID, cur.ID); err != nil {
		return err
	}
	l.println(l.t.T("session.moved", folderID))
	return nil
}

func (l *Loop) project(ctx context.Context, goal string) error {
	if goal == "" {
		l.usage("/project <goal>")
		return nil
	}
	proj, err := l.app.Folders.CreateProject(ctx, goal)
	var partial *folder.PartialError
	switch {
	case errors.As(err, &partial):
		l.println(l.t.T("project.partial", partial.Created, partial.Total, partial.Err))
	case err != nil:
		return err
	default:
		l.println(l.t.T("project.created", proj.Folder.Name, len(proj.Sessions)))
	}
	for _, s := range proj.Sessions {
		l.println("    " + tui.SessionLine(s))
	}
	return nil
}

func (l *Loop) dismiss() {
	if id := l.app.Store.CurrentID(); id != "" {
		l.app.Board.Dismiss(id)
	}
	l.app.Board.DismissGlobal()
	l.println(l.t.T("error.dismissed"))
}

// login stores credentials for the http backend and re-arms the login prompt.
func (l *Loop) login(ctx context.Context, args string) error {
	if l.app.Auth == nil {
		l.println(l.t.T("auth.unavailable"))
		return nil
	}
	fields := strings.Fields(args)
	if len(fields) == 0 {
		l.usage("/login <access> [refresh]")
		return nil
	}
	creds := auth.Credentials{Access: fields[0]}
	if len(fields) > 1 {
		creds.Refresh = fields[1]
	}
	if err := l.app.Auth.SignIn(creds); err != nil {
		return err
	}
	l.mu.Lock()
	l.signedIn = true
	l.mu.Unlock()
	l.gate.Reset()
	l.app.Board.DismissGlobal()
	l.println(l.t.T("auth.signed_in"))
	return l.app.Load(ctx)
}
