package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/graphlocal/graphlocal/client"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "graphlocal-chat: %v\n", err)
		os.Exit(1)
	}
}

type chatOptions struct {
	url      string
	graph    string
	threadID string
	verbose  bool
}

func newRootCmd() *cobra.Command {
	opts := chatOptions{}

	cmd := &cobra.Command{
		Use:           "graphlocal-chat [message]",
		Short:         "Chat with a graphlocal server",
		Long:          "Sends one message when given as arguments, otherwise reads one message per line from stdin on a single thread.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(opts.url)
			r := client.NewRenderer(cmd.OutOrStdout(), opts.verbose)

			if len(args) > 0 {
				_, err := turn(cmd.Context(), c, r, opts, strings.Join(args, " "))
				return err
			}
			return repl(cmd.Context(), c, r, opts, cmd.InOrStdin())
		},
	}

	cmd.PersistentFlags().StringVar(&opts.url, "url", envOr("GRAPHLOCAL_URL", "http://localhost:8000"), "Server base URL")
	cmd.Flags().StringVar(&opts.graph, "graph", "", "Graph name (server default when empty)")
	cmd.Flags().StringVar(&opts.threadID, "thread", "", "Thread id to continue")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Print node updates and final state")

	cmd.AddCommand(&cobra.Command{
		Use:   "graphs",
		Short: "List graphs served by the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			graphs, def, err := client.New(opts.url).Graphs(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range graphs {
				marker := " "
				if name == def {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, name)
			}
			return nil
		},
	})
	return cmd
}

// turn sends one message and renders the stream. It returns the thread the
// server used.
func turn(ctx context.Context, c *client.Client, r *client.Renderer, opts chatOptions, input string) (string, error) {
	stream, err := c.Chat(ctx, opts.graph, input, opts.threadID)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	for {
		f, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return stream.ThreadID, nil
		}
		if err != nil {
			return stream.ThreadID, err
		}
		if err := r.Render(f); err != nil {
			return stream.ThreadID, err
		}
	}
}

func repl(ctx context.Context, c *client.Client, r *client.Renderer, opts chatOptions, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		threadID, err := turn(ctx, c, r, opts, input)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if rerr := r.RenderError(err); rerr != nil {
				return rerr
			}
			continue
		}
		opts.threadID = threadID
	}
	return scanner.Err()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
