package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/park285/arcade-count-bot/internal/dispatch"
	"github.com/park285/arcade-count-bot/internal/napcat"
)

type globals struct {
	baseURL string
	wsURL   string
	token   string
	timeout time.Duration
}

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "napcatcheck",
		Short:         "Probe a Napcat bridge the way arcade-bot uses it",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&g.baseURL, "base-url", os.Getenv("NAPCAT_BASE_URL"), "HTTP API base URL")
	root.PersistentFlags().StringVar(&g.wsURL, "ws-url", os.Getenv("NAPCAT_WS_URL"), "OneBot websocket URL")
	root.PersistentFlags().StringVar(&g.token, "token", os.Getenv("NAPCAT_TOKEN"), "access token")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 8*time.Second, "per-request timeout")

	root.AddCommand(newRecentCmd(g), newSendCmd(g), newWSCmd(g))
	return root
}

func (g *globals) client() (*napcat.Client, error) {
	if strings.TrimSpace(g.baseURL) == "" {
		return nil, fmt.Errorf("--base-url or NAPCAT_BASE_URL is required")
	}
	return napcat.NewClient(g.baseURL, napcat.WithToken(g.token), napcat.WithTimeout(g.timeout)), nil
}

func newRecentCmd(g *globals) *cobra.Command {
	var count, groupType int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Fetch recent contacts and show which would reach the bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()
			raws, err := napcat.NewPollSource(c, groupType).FetchRecent(ctx, count)
			if err != nil {
				return err
			}
			msgs, next := dispatch.Filter(raws, 0)
			out := cmd.OutOrStdout()
			for _, r := range raws {
				fmt.Fprintf(out, "id=%d group=%v peer=%s from=%s text=%q\n", r.ID, r.Group, r.GroupID, r.Sender, r.Text())
			}
			fmt.Fprintf(out, "%d contacts, %d group text messages, cursor would be %d\n", len(raws), len(msgs), next)
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 10, "number of contacts to fetch")
	cmd.Flags().IntVar(&groupType, "group-chat-type", 1, "chatType value that marks a group")
	return cmd
}

func newSendCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "send <group-id> <text...>",
		Short: "Send a text message to a group",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()
			if err := c.SendGroupMsg(ctx, args[0], strings.Join(args[1:], " ")); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sent")
			return nil
		},
	}
}

func newWSCmd(g *globals) *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "ws",
		Short: "Watch the websocket event stream for a while",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(g.wsURL) == "" {
				return fmt.Errorf("--ws-url or NAPCAT_WS_URL is required")
			}
			out := cmd.OutOrStdout()
			ws := napcat.NewWebSocket(g.wsURL, napcat.WithWSToken(g.token), napcat.WithReconnect(3, time.Second))
			ws.OnStateChange(func(state napcat.WebSocketState) {
				fmt.Fprintf(out, "WS state: %s\n", state)
			})
			ws.OnEvent(func(ev *napcat.Event) {
				if ev.PostType != "message" {
					return
				}
				var b strings.Builder
				for _, s := range ev.Message {
					b.WriteString(s.Data.Text)
				}
				fmt.Fprintf(out, "WS msg type=%s group=%s from=%s text=%q\n", ev.MessageType, ev.GroupID, ev.SenderName(), b.String())
			})

			ctx, cancel := context.WithTimeout(cmd.Context(), window)
			defer cancel()
			return ws.Run(ctx)
		},
	}
	cmd.Flags().DurationVar(&window, "duration", 10*time.Second, "how long to observe")
	return cmd
}
