package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/kalambet/bazar/internal/config"
	"github.com/kalambet/bazar/internal/dialogue"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the listing assistant in the terminal",
	Long: `Talk to the listing assistant in the terminal.

Type messages and commands as you would in Telegram (/sell, /status, ...).
Press an inline button by typing its number, e.g. #2. /quit exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetInt64("user")
		username, _ := cmd.Flags().GetString("username")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		// Keep logs out of the conversation unless asked for.
		if cfg.Log.Level == "info" {
			cfg.Log.Level = "warn"
		}
		a, err := newApp(cfg, newLogger(cfg.Log, os.Stderr))
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return runChat(ctx, a.dispatcher, os.Stdin, cmd.OutOrStdout(), userID, username)
	},
}

func init() {
	chatCmd.Flags().Int64("user", 1, "user id to chat as")
	chatCmd.Flags().String("username", "console", "display name to chat as")
	rootCmd.AddCommand(chatCmd)
}

type chatHandler interface {
	Handle(ctx context.Context, chat dialogue.Chat, in dialogue.Inbound) error
}

// pressable is a numbered button from the latest keyboard.
type pressable struct {
	msgID dialogue.MessageID
	btn   dialogue.KeyButton
}

// consoleChat prints messages and numbers their buttons.
type consoleChat struct {
	mu      sync.Mutex
	w       io.Writer
	nextID  dialogue.MessageID
	buttons []pressable
}

func (c *consoleChat) Send(ctx context.Context, chatID int64, msg dialogue.Message) (dialogue.MessageID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.print(c.nextID, msg, false)
	return c.nextID, nil
}

func (c *consoleChat) Edit(ctx context.Context, chatID int64, id dialogue.MessageID, msg dialogue.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id <= 0 || id > c.nextID {
		return fmt.Errorf("message %d not found", id)
	}
	c.print(id, msg, true)
	return nil
}

func (c *consoleChat) print(id dialogue.MessageID, msg dialogue.Message, edited bool) {
	if edited {
		fmt.Fprintln(c.w, colorize(colorDim, "(updated)"))
	}
	fmt.Fprintln(c.w, msg.Text)
	if len(msg.Keyboard) == 0 {
		fmt.Fprintln(c.w)
		return
	}
	c.buttons = c.buttons[:0]
	for _, row := range msg.Keyboard {
		var labels []string
		for _, b := range row {
			c.buttons = append(c.buttons, pressable{msgID: id, btn: b})
			labels = append(labels, fmt.Sprintf("[#%d %s]", len(c.buttons), b.Text))
		}
		fmt.Fprintln(c.w, colorize(colorCyan, strings.Join(labels, "  ")))
	}
	fmt.Fprintln(c.w)
}

func (c *consoleChat) button(n int) (pressable, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 1 || n > len(c.buttons) {
		return pressable{}, false
	}
	return c.buttons[n-1], true
}

func runChat(ctx context.Context, h chatHandler, in io.Reader, out io.Writer, userID int64, username string) error {
	chat := &consoleChat{w: out}
	fmt.Fprintln(out, colorize(colorBold, "bazar chat: type /sell to start, /quit to exit"))

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(out, colorize(colorGreen, "> "))
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		ev := dialogue.Inbound{UserID: userID, ChatID: userID, Username: username, Text: line}
		if strings.HasPrefix(line, "#") {
			n, err := strconv.Atoi(strings.TrimPrefix(line, "#"))
			p, ok := chat.button(n)
			if err != nil || !ok {
				fmt.Fprintln(out, colorize(colorYellow, "no such button"))
				continue
			}
			ev.Text = ""
			ev.CallbackData = p.btn.Data
			ev.MessageID = p.msgID
		}
		if err := h.Handle(ctx, chat, ev); err != nil {
			return err
		}
	}
}
