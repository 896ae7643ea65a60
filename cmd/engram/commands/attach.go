package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/engramdb/engram/internal/repl"
)

func newAttachCommand() *cobra.Command {
	var opts repl.Options

	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Open an interactive session against a running instance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return repl.Run(ctx, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Addr, "grpc-addr", "127.0.0.1:4001", "gRPC address of the running instance")
	f.StringVar(&opts.MetaAddr, "meta-addr", "", "metadata service address (distributed deployments only)")
	f.BoolVar(&opts.DisableHelper, "disable-helper", false, "disable the line editor and read plain lines from stdin")

	return cmd
}
