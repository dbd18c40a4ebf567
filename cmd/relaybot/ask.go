package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"relaybot/internal/domain"
	"relaybot/internal/relay"
)

func askCmd() *cobra.Command {
	var (
		details []string
		pdfURL  string
		pdfName string
	)
	cmd := &cobra.Command{
		Use:   "ask [text]",
		Short: "Relay one question to the backend and print the reply",
		Long: "Runs a single message through the relay pipeline, exactly as a chat message would be handled. " +
			"--pdf-url adds a file-download attachment, which requires identity credentials.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			extra, err := parseDetails(details)
			if err != nil {
				return err
			}

			rt, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			msg := domain.InboundMessage{
				Channel:        "cli",
				ConversationID: "ask",
				SenderID:       "user",
				Details:        extra,
			}
			if len(args) == 1 {
				msg.Text = args[0]
			}
			if pdfURL != "" {
				if pdfName == "" {
					pdfName = "document.pdf"
				}
				msg.Attachments = []domain.Attachment{{
					ContentType: domain.FileDownloadInfo,
					Name:        pdfName,
					DownloadURL: pdfURL,
				}}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res := rt.loop.HandleDirect(ctx, msg)
			fmt.Fprintln(cmd.OutOrStdout(), res.Reply)
			if res.Err != nil {
				return fmt.Errorf("relay failed at %s stage", relay.StageOf(res.Err))
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&details, "detail", "d", nil, "additional detail sent to the backend as key=value (repeatable)")
	cmd.Flags().StringVar(&pdfURL, "pdf-url", "", "download URL of a PDF to extract and append")
	cmd.Flags().StringVar(&pdfName, "pdf-name", "", "file name of the --pdf-url attachment")
	return cmd
}

func parseDetails(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --detail %q (want key=value)", p)
		}
		out[k] = v
	}
	return out, nil
}
