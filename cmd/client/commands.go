package client

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ValentinKolb/dNet/cmd/util"
	"github.com/ValentinKolb/dNet/sock/transport"
	"github.com/spf13/cobra"
)

var (
	waitCount   int
	waitTimeout time.Duration
	loopback    bool
	joinFirst   bool

	sendCmd = &cobra.Command{
		Use:   "send [message]",
		Short: "Sends a message and prints the replies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := dnetClient.SendMessage([]byte(strings.Join(args, " "))); err != nil {
				return err
			}
			fmt.Println("sent successfully")
			return awaitReplies(waitCount, waitTimeout)
		},
	}
	groupCmd = &cobra.Command{
		Use:   "group [groups] [message]",
		Short: "Sends a message to the members of comma separated groups",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			groups := util.SplitList(args[0])
			if joinFirst {
				if err := dnetClient.JoinGroup(groups...); err != nil {
					return fmt.Errorf("failed to join groups: %w", err)
				}
			}
			if err := dnetClient.SendGroupMessage(groups, []byte(strings.Join(args[1:], " ")), loopback); err != nil {
				return err
			}
			fmt.Printf("sent to %s\n", strings.Join(groups, ", "))
			return awaitReplies(waitCount, waitTimeout)
		},
	}
	listenCmd = &cobra.Command{
		Use:   "listen [groups]",
		Short: "Joins comma separated groups and prints received messages until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				groups := util.SplitList(args[0])
				if err := dnetClient.JoinGroup(groups...); err != nil {
					return fmt.Errorf("failed to join groups: %w", err)
				}
				fmt.Printf("joined %s\n", strings.Join(groups, ", "))
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case msg := <-inbox:
					printMessage(msg)
				}
			}
		},
	}
	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Interactive session reading messages from stdin",
		Long: `Interactive session reading messages from stdin. Every line is sent as one message.

Commands:
  /join a,b         replace the group membership
  /to a,b message   send a message to groups
  /groups           print the joined groups
  /quit             exit`,
		Args: cobra.NoArgs,
		RunE: runChat,
	}
)

func init() {
	for _, cmd := range []*cobra.Command{sendCmd, groupCmd} {
		cmd.Flags().IntVar(&waitCount, "wait", 0, util.WrapString("Number of replies to wait for"))
		cmd.Flags().DurationVar(&waitTimeout, "timeout", 5*time.Second, util.WrapString("How long to wait for replies"))
	}
	groupCmd.Flags().BoolVar(&loopback, "loopback", false, util.WrapString("Also deliver the message to this client if it is a member"))
	groupCmd.Flags().BoolVar(&joinFirst, "join", false, util.WrapString("Join the groups before sending"))
}

// awaitReplies prints up to n received messages
func awaitReplies(n int, timeout time.Duration) error {
	if n <= 0 {
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for i := 0; i < n; i++ {
		select {
		case msg := <-inbox:
			printMessage(msg)
		case <-timer.C:
			return fmt.Errorf("received %d of %d replies within %s", i, n, timeout)
		}
	}
	return nil
}

func printMessage(msg transport.Message) {
	fmt.Printf("< %s\n", msg.Data)
}

// runChat forwards stdin lines until EOF, /quit or an interrupt
func runChat(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-inbox:
				printMessage(msg)
			}
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := chatLine(strings.TrimSpace(line))
			if err != nil {
				fmt.Printf("! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// chatLine executes one line of the chat session
func chatLine(line string) (bool, error) {
	switch {
	case line == "":
		return false, nil
	case line == "/quit":
		return true, nil
	case line == "/groups":
		fmt.Printf("groups: %s\n", strings.Join(dnetClient.Groups(), ", "))
		return false, nil
	case strings.HasPrefix(line, "/join "):
		return false, dnetClient.JoinGroup(util.SplitList(strings.TrimPrefix(line, "/join "))...)
	case strings.HasPrefix(line, "/to "):
		groups, text, found := strings.Cut(strings.TrimPrefix(line, "/to "), " ")
		if !found || text == "" {
			return false, fmt.Errorf("usage: /to a,b message")
		}
		return false, dnetClient.SendGroupMessage(util.SplitList(groups), []byte(text), false)
	default:
		return false, dnetClient.SendMessage([]byte(line))
	}
}
