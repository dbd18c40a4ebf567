package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"relaybot/internal/domain"
)

const cliChannelName = "cli"

// CLI is an interactive terminal channel for trying the relay locally.
type CLI struct {
	bus    domain.MessageBus
	logger *slog.Logger
	in     io.Reader
	out    io.Writer

	mu        sync.Mutex // guards out and the spinner
	thinking  bool
	thinkStop chan struct{}
}

type CLIConfig struct {
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{logger: cfg.Logger, in: cfg.In, out: cfg.Out}
}

func (c *CLI) Name() string { return cliChannelName }

// Start runs the REPL until EOF, /quit, or ctx is cancelled.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus
	bus.OnOutbound(cliChannelName, c.deliver)

	c.print("relaybot CLI. Type a question and press Enter. Type /quit to exit.\nYou> ")

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			return err
		case line := <-lines:
			switch strings.TrimSpace(line) {
			case "":
				c.print("You> ")
				continue
			case "/quit", "/exit", "/q":
				c.logger.Info("user requested quit")
				return nil
			}

			c.startThinking()
			if err := c.bus.Publish(domain.InboundMessage{
				ID:             uuid.NewString(),
				Channel:        cliChannelName,
				ConversationID: "direct",
				SenderID:       "user",
				Text:           line,
				Timestamp:      time.Now(),
			}); err != nil {
				c.stopThinking()
				c.print(fmt.Sprintf("\r\033[Kerror: %v\nYou> ", err))
			}
		}
	}
}

func (c *CLI) deliver(msg domain.OutboundMessage) {
	c.stopThinking()
	c.print("\r\033[K--- relaybot ---\n" + msg.Content + "\n----------------\nYou> ")
}

func (c *CLI) print(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = io.WriteString(c.out, s)
}

func (c *CLI) startThinking() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	stop := make(chan struct{})
	c.thinkStop = stop
	go func() {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.print(fmt.Sprintf("\r%s Waiting for backend...", frames[i%len(frames)]))
			}
		}
	}()
}

func (c *CLI) stopThinking() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
}

func (c *CLI) Stop() error { return nil }
