package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/huddle/internal/api"
	"github.com/matheus3301/huddle/internal/chat"
	"github.com/matheus3301/huddle/internal/client"
	"github.com/matheus3301/huddle/internal/instance"
	"github.com/matheus3301/huddle/internal/lock"
)

func main() {
	instanceFlag := flag.String("instance", "", "instance name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	name := instance.Resolve(*instanceFlag)
	if err := instance.ValidateName(name); err != nil {
		fail(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c, err := client.New(instance.SocketPath(name))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for instance %q: %v\n", name, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	// watch runs until interrupted; everything else is a single round trip.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if args[0] != "watch" {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}

	cmd := &command{c: c, instance: name, json: *jsonFlag}
	if args[0] != "status" {
		if err := cmd.ensureSession(ctx); err != nil {
			fail(cmd.explain(err))
		}
	}
	if err := cmd.run(ctx, args[0], args[1:]); err != nil {
		fail(cmd.explain(err))
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: huddlectl [--instance <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                        Show daemon status")
	fmt.Fprintln(os.Stderr, "  signup <username> [avatar]    Create an account and sign in")
	fmt.Fprintln(os.Stderr, "  signin <username>             Sign in")
	fmt.Fprintln(os.Stderr, "  signout                       Sign out")
	fmt.Fprintln(os.Stderr, "  whoami                        Show the signed-in user")
	fmt.Fprintln(os.Stderr, "  avatar <file>                 Replace your avatar")
	fmt.Fprintln(os.Stderr, "  chats [filter]                List conversations")
	fmt.Fprintln(os.Stderr, "  add <username>                Start a conversation")
	fmt.Fprintln(os.Stderr, "  open <conversation> [peer]    Open a conversation")
	fmt.Fprintln(os.Stderr, "  close                         Close the open conversation")
	fmt.Fprintln(os.Stderr, "  messages [after-seq]          List messages of the open conversation")
	fmt.Fprintln(os.Stderr, "  send <text>                   Send a text message")
	fmt.Fprintln(os.Stderr, "  send-image <file> [caption]   Send an image")
	fmt.Fprintln(os.Stderr, "  block                         Toggle blocking the open peer")
	fmt.Fprintln(os.Stderr, "  watch                         Stream session updates")
	fmt.Fprintln(os.Stderr, "  forget                        End the daemon session")
}

type command struct {
	c        *client.Client
	instance string
	json     bool
}

// ensureSession reuses the session id saved by an earlier invocation, or
// opens a new one when there is none or the daemon no longer knows it.
func (cmd *command) ensureSession(ctx context.Context) error {
	path := instance.ClientSessionPath(cmd.instance)
	if data, err := os.ReadFile(path); err == nil {
		cmd.c.UseSession(strings.TrimSpace(string(data)))
		_, err := cmd.c.Status(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, chat.ErrUnauthenticated) {
			return err
		}
		cmd.c.UseSession("")
	}
	id, err := cmd.c.CreateSession(ctx)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(id+"\n"), 0600)
}

// explain replaces an unreachable-daemon error with what the instance lock
// says about it.
func (cmd *command) explain(err error) error {
	if !errors.Is(err, chat.ErrTransient) {
		return err
	}
	pid, lerr := lock.Holder(instance.Dir(cmd.instance))
	switch {
	case lerr != nil:
		return err
	case pid == 0:
		return fmt.Errorf("daemon for instance %q is not running", cmd.instance)
	default:
		return fmt.Errorf("daemon for instance %q (pid %d) is not answering: %w", cmd.instance, pid, err)
	}
}

func (cmd *command) run(ctx context.Context, name string, args []string) error {
	c := cmd.c
	switch name {
	case "status":
		resp, err := c.Status(ctx)
		if err != nil {
			return err
		}
		if cmd.json {
			outputJSON(resp)
			return nil
		}
		fmt.Printf("Instance: %s\n", resp.Instance)
		if pid, err := lock.Holder(instance.Dir(cmd.instance)); err == nil && pid != 0 {
			fmt.Printf("PID:      %d\n", pid)
		}
		fmt.Printf("Uptime:   %dms\n", resp.UptimeMs)
		fmt.Printf("Sessions: %d\n", resp.Sessions)
		fmt.Printf("Messages: %d\n", resp.Messages)
		return nil

	case "signup":
		if len(args) < 1 {
			return usage("signup <username> [avatar]")
		}
		var avatarName string
		var avatar []byte
		if len(args) > 1 {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			avatarName, avatar = filepath.Base(args[1]), data
		}
		p, err := c.SignUp(ctx, args[0], avatarName, avatar)
		if err != nil {
			return err
		}
		cmd.printProfile(p)
		return nil

	case "signin":
		if len(args) != 1 {
			return usage("signin <username>")
		}
		p, err := c.SignIn(ctx, args[0])
		if err != nil {
			return err
		}
		cmd.printProfile(p)
		return nil

	case "signout":
		return c.SignOut(ctx)

	case "whoami":
		p, err := c.WhoAmI(ctx)
		if err != nil {
			return err
		}
		cmd.printProfile(p)
		return nil

	case "avatar":
		if len(args) != 1 {
			return usage("avatar <file>")
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		p, err := c.SetAvatar(ctx, filepath.Base(args[0]), data)
		if err != nil {
			return err
		}
		cmd.printProfile(p)
		return nil

	case "chats":
		items, err := c.ChatList(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		if cmd.json {
			outputJSON(items)
			return nil
		}
		if len(items) == 0 {
			fmt.Println("No conversations.")
			return nil
		}
		for _, it := range items {
			printChatRow(it)
		}
		return nil

	case "add":
		if len(args) != 1 {
			return usage("add <username>")
		}
		p, err := c.SearchUsers(ctx, args[0])
		if err != nil {
			return err
		}
		conv, err := c.NewConversation(ctx, p.ID)
		if err != nil {
			return err
		}
		if cmd.json {
			outputJSON(conv)
			return nil
		}
		fmt.Printf("Conversation %s with %s\n", conv.ID, p.Username)
		return nil

	case "open":
		if len(args) < 1 {
			return usage("open <conversation> [peer]")
		}
		var peer chat.UserID
		if len(args) > 1 {
			peer = chat.UserID(args[1])
		}
		v, err := c.OpenConversation(ctx, chat.ConversationID(args[0]), peer)
		if err != nil {
			return err
		}
		cmd.printView(v)
		return nil

	case "close":
		return c.CloseConversation(ctx)

	case "messages":
		var after int64
		if len(args) > 0 {
			n, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("after-seq: %w", err)
			}
			after = n
		}
		msgs, err := c.Messages(ctx, after, 0)
		if err != nil {
			return err
		}
		if cmd.json {
			outputJSON(msgs)
			return nil
		}
		for _, m := range msgs {
			printMessage(m)
		}
		return nil

	case "send":
		if len(args) < 1 {
			return usage("send <text>")
		}
		if err := c.SetDraft(ctx, strings.Join(args, " ")); err != nil {
			return err
		}
		return cmd.send(ctx)

	case "send-image":
		if len(args) < 1 {
			return usage("send-image <file> [caption]")
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		if err := c.AttachImage(ctx, filepath.Base(args[0]), data); err != nil {
			return err
		}
		if err := c.SetDraft(ctx, strings.Join(args[1:], " ")); err != nil {
			return err
		}
		return cmd.send(ctx)

	case "block":
		v, err := c.ToggleBlock(ctx)
		if err != nil {
			return err
		}
		cmd.printView(v)
		return nil

	case "watch":
		return cmd.watch(ctx)

	case "forget":
		if err := c.CloseSession(ctx); err != nil {
			return err
		}
		return os.Remove(instance.ClientSessionPath(cmd.instance))

	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", name)
	}
}

func (cmd *command) send(ctx context.Context) error {
	m, err := cmd.c.Send(ctx)
	if err != nil {
		return err
	}
	if cmd.json {
		outputJSON(m)
		return nil
	}
	printMessage(*m)
	return nil
}

func (cmd *command) watch(ctx context.Context) error {
	err := cmd.c.Watch(ctx, func(evt api.WatchEvent) error {
		if cmd.json {
			outputJSON(evt)
			return nil
		}
		switch {
		case evt.Snapshot != nil:
			fmt.Printf("[snapshot] state=%s chats=%d\n", evt.Snapshot.State, len(evt.Snapshot.ChatList))
			for _, it := range evt.Snapshot.ChatList {
				printChatRow(it)
			}
		case evt.Update != nil:
			u := evt.Update
			fmt.Printf("[%s] state=%s\n", u.Kind, u.State)
			for _, it := range u.ChatList {
				printChatRow(it)
			}
			for _, m := range u.Messages {
				printMessage(m)
			}
		}
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (cmd *command) printProfile(p *chat.Profile) {
	if cmd.json {
		outputJSON(p)
		return
	}
	fmt.Printf("%s (%s)\n", p.Username, p.ID)
	if p.Avatar != "" {
		fmt.Printf("Avatar: %s\n", p.Avatar)
	}
}

func (cmd *command) printView(v *chat.ViewState) {
	if cmd.json {
		outputJSON(v)
		return
	}
	peer := chat.RedactedName
	if v.Peer != nil {
		peer = v.Peer.Username
	}
	fmt.Printf("Conversation: %s\n", v.ConversationID)
	fmt.Printf("Peer:         %s\n", peer)
	fmt.Printf("Can send:     %v\n", v.CanSend)
	if v.PeerBlockedSelf {
		fmt.Println("You blocked this user.")
	}
	if v.SelfBlockedPeer {
		fmt.Println("This user blocked you.")
	}
}

func printChatRow(it chat.ChatListItem) {
	unread := " "
	if !it.Entry.IsSeen {
		unread = "*"
	}
	fmt.Printf("%s %-36s %-20s %s\n", unread, it.Entry.ConversationID, it.PeerName, it.Entry.LastMessagePreview)
}

func printMessage(m chat.Message) {
	body := m.Text
	if m.HasImage() {
		body = strings.TrimSpace("[image " + m.ImageRef + "] " + m.Text)
	}
	fmt.Printf("%4d %s %s: %s\n", m.Seq, m.CreatedAt.Local().Format(time.Kitchen), m.SenderID, body)
}

func usage(s string) error {
	return fmt.Errorf("usage: huddlectl %s", s)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
