package cli

import (
	"context"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dragonflyoss/vortex/pkg/client"
	"github.com/fatih/color"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func cmdFetch() *cli.Command {
	var (
		addr    string
		taskID  string
		piece   string
		output  string
		timeout time.Duration
	)

	return &cli.Command{
		Name:  "fetch",
		Usage: "Download one piece from a Vortex peer",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "Peer address",
				Value:       "localhost:4000",
				Destination: &addr,
				Sources:     cli.EnvVars("VORTEX_PEER_ADDR"),
			},
			&cli.StringFlag{
				Name:        "task-id",
				Aliases:     []string{"t"},
				Usage:       "Task identifier",
				Required:    true,
				Destination: &taskID,
			},
			&cli.StringFlag{
				Name:        "piece",
				Aliases:     []string{"p"},
				Usage:       "Piece number",
				Required:    true,
				Destination: &piece,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "Output file, '-' for stdout",
				Value:       "-",
				Destination: &output,
			},
			&cli.DurationFlag{
				Name:        "timeout",
				Usage:       "Request timeout",
				Value:       time.Minute,
				Destination: &timeout,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			number, err := strconv.ParseUint(piece, 10, 32)
			if err != nil {
				return goerr.Wrap(err, "invalid piece number", goerr.V("piece", piece))
			}

			return fetchPiece(ctx, addr, taskID, uint32(number), output, timeout)
		},
	}
}

func fetchPiece(ctx context.Context, addr, taskID string, number uint32, output string, timeout time.Duration) error {
	logger := ctxlog.From(ctx)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	c, err := client.Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer c.Close()

	data, err := c.DownloadPiece(ctx, taskID, number)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	logger.Debug("Downloaded piece",
		"addr", addr,
		"task_id", taskID,
		"piece_number", number,
		"size_bytes", len(data),
		"duration_ms", elapsed.Milliseconds(),
	)

	var w io.Writer = os.Stdout
	if output != "-" {
		f, err := os.Create(output)
		if err != nil {
			return goerr.Wrap(err, "failed to create output file", goerr.V("path", output))
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return goerr.Wrap(err, "failed to write piece", goerr.V("path", output))
	}

	printSummary(os.Stderr, taskID, number, len(data), elapsed)
	return nil
}

func printSummary(w io.Writer, taskID string, number uint32, size int, elapsed time.Duration) {
	ok := color.New(color.FgGreen, color.Bold)
	key := color.New(color.FgCyan)

	ok.Fprint(w, "✔ downloaded ")
	key.Fprintf(w, "%s-%d", taskID, number)
	color.New(color.Faint).Fprintf(w, " (%d bytes in %s)\n", size, elapsed.Round(time.Millisecond))
}
