package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/rowstream/internal/config"
	"github.com/Sternrassler/rowstream/pkg/protocol"
)

// errUnhealthy is returned when the probe is not answered as expected.
var errUnhealthy = errors.New("server is not healthy")

func newHealthCommand() *cobra.Command {
	v := config.NewViper()
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Send the liveness probe and exit non-zero unless the server answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if err := probe(ctx, v.GetString("addr")); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), protocol.HealthReply)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("addr", config.DefaultAddr, "the host:port address of the server")
	mustBindPFlag(v, "addr", flags.Lookup("addr"))
	flags.DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for the answer")

	return cmd
}

// probe sends the liveness probe to addr and checks the reply.
func probe(ctx context.Context, addr string) error {
	conn, err := dial(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := protocol.WriteRequest(conn, &protocol.Request{Msg: protocol.ProbeMessage}); err != nil {
		return err
	}

	lines, err := protocol.ReadReply(conn)
	if err != nil {
		return fmt.Errorf("%w: %v", errUnhealthy, err)
	}
	if len(lines) != 1 || lines[0] != protocol.HealthReply {
		return fmt.Errorf("%w: unexpected reply %q", errUnhealthy, lines)
	}
	return nil
}

func newListCommand() *cobra.Command {
	v := config.NewViper()
	var (
		attrs   []string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "list AUTHOR LIST",
		Short: "Request a list from a running server and print it as CSV",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			req := &protocol.Request{AuthorUser: args[0], ListName: args[1], Attrs: attrs}
			return fetchList(ctx, v.GetString("addr"), req, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.String("addr", config.DefaultAddr, "the host:port address of the server")
	mustBindPFlag(v, "addr", flags.Lookup("addr"))
	flags.StringSliceVar(&attrs, "attrs", []string{"none"}, `the attribute columns to request, or "none"`)
	flags.DurationVar(&timeout, "timeout", 10*time.Minute, "how long to wait for the whole stream")

	return cmd
}

// fetchList sends req to addr and copies the streamed CSV to out. A tagged
// error line or a stream cut before its terminal marker is returned as an error.
func fetchList(ctx context.Context, addr string, req *protocol.Request, out io.Writer) error {
	conn, err := dial(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := protocol.WriteRequest(conn, req); err != nil {
		return err
	}

	stream, err := protocol.ReadStream(conn)
	if err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	if failure, ok := stream.Failure(); ok {
		return errors.New(failure)
	}

	if _, err := io.WriteString(out, strings.Join(stream.Lines, "\n")+"\n"); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// dial connects to addr; the connection deadline follows ctx.
func dial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	return conn, nil
}
