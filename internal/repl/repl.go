// Package repl implements the interactive attach client: a line editor
// over the gRPC query service of a running instance.
package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/olekukonko/tablewriter"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/engramdb/engram/internal/logger"
)

const queryMethod = "/engram.v1.QueryService/Query"

// Options configures one attach session.
type Options struct {
	// Addr is the gRPC address of the running instance.
	Addr string
	// MetaAddr is the metadata service address. Standalone instances embed
	// their metadata store, so this is only meaningful against a
	// distributed deployment.
	MetaAddr string
	// DisableHelper switches the line editor off and reads plain lines
	// from stdin, for dumb terminals and scripted input.
	DisableHelper bool
}

// Client is a connected attach session.
type Client struct {
	conn *grpc.ClientConn
	out  io.Writer
}

// Connect dials the instance and waits for its health check to report
// serving.
func Connect(ctx context.Context, addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(probeCtx, &healthpb.HealthCheckRequest{})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("instance at %s is not reachable: %w", addr, err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		conn.Close()
		return nil, fmt.Errorf("instance at %s is not serving (status %s)", addr, resp.Status)
	}

	logger.Debug("attached to instance", "addr", addr)
	return &Client{conn: conn, out: os.Stdout}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Query runs one statement and returns the decoded result table.
func (c *Client) Query(ctx context.Context, stmt string) ([]string, [][]string, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, queryMethod, wrapperspb.String(stmt), out); err != nil {
		return nil, nil, err
	}

	var columns []string
	for _, v := range out.Fields["columns"].GetListValue().GetValues() {
		columns = append(columns, v.GetStringValue())
	}
	var rows [][]string
	for _, rv := range out.Fields["rows"].GetListValue().GetValues() {
		var row []string
		for _, cv := range rv.GetListValue().GetValues() {
			row = append(row, cv.GetStringValue())
		}
		rows = append(rows, row)
	}
	return columns, rows, nil
}

// Run drives the interactive loop until EOF or an exit command.
func Run(ctx context.Context, opts Options) error {
	if opts.MetaAddr != "" {
		logger.Warn("metadata service address is ignored for standalone instances", "meta_addr", opts.MetaAddr)
	}

	client, err := Connect(ctx, opts.Addr)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Fprintf(client.out, "Attached to %s. Type help for help, exit to leave.\n", opts.Addr)

	next, cleanup, err := lineSource(opts)
	if err != nil {
		return err
	}
	defer cleanup()

	for {
		line, err := next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case strings.EqualFold(line, "exit"), strings.EqualFold(line, "quit"):
			return nil
		case strings.EqualFold(line, "help"):
			printHelp(client.out)
			continue
		}

		started := time.Now()
		columns, rows, err := client.Query(ctx, line)
		if err != nil {
			fmt.Fprintf(client.out, "error: %v\n", err)
			continue
		}
		renderTable(client.out, columns, rows)
		fmt.Fprintf(client.out, "%d row(s) in %s\n", len(rows), time.Since(started).Round(time.Millisecond))
	}
}

// lineSource picks the interactive editor or the plain stdin reader.
func lineSource(opts Options) (next func() (string, error), cleanup func(), err error) {
	if opts.DisableHelper {
		scanner := bufio.NewScanner(os.Stdin)
		return func() (string, error) {
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return "", err
				}
				return "", io.EOF
			}
			return scanner.Text(), nil
		}, func() {}, nil
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "engram> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".engram_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize line editor: %w", err)
	}
	return rl.Readline, func() { rl.Close() }, nil
}

func renderTable(w io.Writer, columns []string, rows [][]string) {
	if len(columns) == 0 {
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader(columns)
	for _, row := range rows {
		table.Append(row)
	}
	table.Render()
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, `Statements:
  CREATE TABLE <name> [ENGINE <engine>]
  INSERT <table> <key> <value>
  SELECT <table> <key>
  SHOW TABLES
Commands:
  help          show this help
  exit, quit    leave the session`)
}
