// Command primeclient connects to a prime-check server and asks it about
// numbers typed on standard input until 0 is entered.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cyberinferno/primewire/client"
	"github.com/cyberinferno/primewire/logger"
	"github.com/cyberinferno/primewire/protocol"
	"github.com/spf13/cobra"
)

// exitInterrupted is the conventional status for a process ended by SIGINT.
const exitInterrupted = 130

// ArgumentError reports missing or malformed command-line arguments.
type ArgumentError struct {
	Msg string
}

func (e *ArgumentError) Error() string {
	return e.Msg
}

type options struct {
	connectTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	maxFrame       int
	logLevel       string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command and returns the process exit code.
func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	cmd := newRootCmd(in, out)
	cmd.SetArgs(args)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	if err := cmd.ExecuteContext(ctx); err != nil {
		var argErr *ArgumentError
		if errors.As(err, &argErr) {
			fmt.Fprintf(errOut, "Invalid arguments: %s\n\n%s", argErr.Msg, cmd.UsageString())
			return 1
		}

		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(errOut, "Interrupted")
			return exitInterrupted
		}

		fmt.Fprintf(errOut, "Error: %s\n", err)
		return 1
	}

	return 0
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "primeclient <server-address> <port>",
		Short: "Ask a prime-check server whether numbers are prime",
		Long: `primeclient opens one TCP connection to a prime-check server and
prompts for numbers. Each non-zero number is sent to the server and its
verdict printed. Entering 0 (or ending input) closes the session.`,
		Args:          validateArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd.Context(), args[0], args[1], opts, in, out)
		},
	}

	cmd.Flags().DurationVar(&opts.connectTimeout, "connect-timeout", 10*time.Second, "Max time to establish the connection")
	cmd.Flags().DurationVar(&opts.readTimeout, "read-timeout", 0, "Max wait for each verdict (0 waits forever)")
	cmd.Flags().DurationVar(&opts.writeTimeout, "write-timeout", 0, "Max time to send each number (0 means no timeout)")
	cmd.Flags().IntVar(&opts.maxFrame, "max-frame", protocol.DefaultMaxStringLen, "Largest verdict accepted from the server, in bytes")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "Diagnostics level on stderr (debug, info, warn, error)")

	return cmd
}

func validateArgs(cmd *cobra.Command, args []string) error {
	switch {
	case len(args) < 1:
		return &ArgumentError{Msg: "enter the server's address"}
	case len(args) < 2:
		return &ArgumentError{Msg: "enter the port number"}
	case len(args) > 2:
		return &ArgumentError{Msg: fmt.Sprintf("expected 2 arguments, got %d", len(args))}
	}

	if _, err := parsePort(args[1]); err != nil {
		return err
	}

	return nil
}

func parsePort(s string) (uint16, error) {
	p, err := strconv.ParseUint(s, 10, 16)
	if err != nil || p == 0 {
		return 0, &ArgumentError{Msg: fmt.Sprintf("invalid port %q", s)}
	}

	return uint16(p), nil
}

func runClient(ctx context.Context, host, port string, opts options, in io.Reader, out io.Writer) error {
	lvl, err := logger.ParseLevel(opts.logLevel)
	if err != nil {
		return &ArgumentError{Msg: err.Error()}
	}

	log := logger.NewConsoleLogger("primeclient", lvl)

	cfg := client.DefaultConfig(net.JoinHostPort(host, port))
	cfg.ConnectionTimeout = opts.connectTimeout
	cfg.ReadTimeout = opts.readTimeout
	cfg.WriteTimeout = opts.writeTimeout
	cfg.MaxStringLen = opts.maxFrame

	c, err := client.Dial(ctx, cfg)
	if err != nil {
		return err
	}

	log.Info("connected", logger.F("server", c.RemoteAddr().String()))

	return client.NewPrompter(c, in, out, log).Run(ctx)
}
