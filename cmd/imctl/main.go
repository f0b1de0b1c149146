package main

import (
	"Rendezvous/internal/client"
	"Rendezvous/internal/event"
	"Rendezvous/internal/pkg/consts"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	token     string
	userID    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "imctl",
		Short:         "会话消息调试工具",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = os.Getenv("IMCTL_TOKEN")
			}
			if token == "" {
				return fmt.Errorf("缺少 token，使用 --token 或 IMCTL_TOKEN")
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://127.0.0.1:8080", "服务地址")
	rootCmd.PersistentFlags().StringVarP(&token, "token", "t", "", "Bearer token")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "当前用户 ID，用于未读计数")

	rootCmd.AddCommand(newTailCmd(), newSendCmd(), newUnreadCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newAPI() *client.API {
	return client.NewAPI(serverURL, token, 5*time.Second)
}

func wsURL() string {
	u := strings.TrimSuffix(serverURL, "/")
	u = strings.Replace(u, "http://", "ws://", 1)
	u = strings.Replace(u, "https://", "wss://", 1)
	return u + "/api/im/ws"
}

func newTailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tail <conversationId>",
		Short: "打印历史并持续接收新消息",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conversationID := args[0]
			api := newAPI()
			history := client.NewHistory()
			badge := client.NewBadge(userID, api)
			conn := client.NewConn(client.ConnOptions{URL: wsURL(), Token: token}, api, history, badge)

			out := cmd.OutOrStdout()
			conn.OnStateChange(func(s client.State) {
				fmt.Fprintf(out, "-- %s\n", s)
			})
			conn.OnEvent(func(ev *event.Event) {
				switch ev.Type {
				case consts.EventNewMessage:
					var m event.Message
					if err := ev.Decode(&m); err == nil && m.ConversationID == conversationID {
						printMessage(cmd, &m)
					}
				case consts.EventTyping:
					var tp event.Typing
					if err := ev.Decode(&tp); err == nil && tp.IsTyping {
						fmt.Fprintf(out, "-- %s 正在输入\n", tp.UserID)
					}
				case consts.EventError:
					var e event.Error
					if err := ev.Decode(&e); err == nil {
						fmt.Fprintf(out, "-- error %d: %s\n", e.Code, e.Message)
					}
				}
			})
			badge.Subscribe(func(n int64) {
				fmt.Fprintf(out, "-- unread %d\n", n)
			})

			// 先走 REST，实时通道不可用时仍可查看历史；连接建立后自动入房
			if err := conn.View(ctx, conversationID); err != nil {
				return err
			}
			for _, m := range history.Messages(conversationID) {
				printMessage(cmd, m)
			}

			go badge.Run(ctx, client.DefaultPollInterval)
			return conn.Run(ctx)
		},
	}
}

func newSendCmd() *cobra.Command {
	var recipient string
	cmd := &cobra.Command{
		Use:   "send <conversationId> <content...>",
		Short: "发送一条消息",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			m, err := newAPI().Send(ctx, args[0], recipient, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			printMessage(cmd, m)
			return nil
		},
	}
	cmd.Flags().StringVar(&recipient, "to", "", "接收方 ID")
	return cmd
}

func newUnreadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unread",
		Short: "查看未读总数与会话列表",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			api := newAPI()
			total, err := api.Unread(ctx)
			if err != nil {
				return err
			}
			list, err := api.Conversations(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "unread: %d\n", total)
			for _, c := range list {
				state := ""
				if c.Closed {
					state = " (closed)"
				}
				fmt.Fprintf(out, "%-24s peer=%-16s unread=%-4d %s%s\n", c.ConversationID, c.PeerID, c.UnreadCount, c.LastMsgContent, state)
			}
			return nil
		},
	}
}

func printMessage(cmd *cobra.Command, m *event.Message) {
	fmt.Fprintf(cmd.OutOrStdout(), "[%d] %s %s: %s\n", m.Seq, m.CreatedAt.Format("01-02 15:04:05"), m.SenderID, m.Content)
}
