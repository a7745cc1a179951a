package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go-supervisor/pkg/models"
	"go-supervisor/pkg/payload"
	"io"
	"os/signal"
	"strings"
	"syscall"
)

var (
	runContextID string
	runMetadata  string
	runID        string
)

var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Run a task locally and print its event stream",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		metadata := payload.Map{}
		if runMetadata != "" {
			if err := json.Unmarshal([]byte(runMetadata), &metadata); err != nil {
				return fmt.Errorf("--metadata must be a JSON object: %w", err)
			}
		}

		store, err := openStore(cfg.Checkpoint)
		if err != nil {
			return err
		}
		defer store.Close()
		driver, err := newDriver(cfg, store)
		if err != nil {
			return err
		}

		cp, err := driver.Start(ctx, runID, strings.Join(args, " "), runContextID, metadata)
		if err != nil {
			return err
		}
		p := printer{out: cmd.OutOrStdout()}
		in := bufio.NewReader(cmd.InOrStdin())

		for {
			out, err := driver.Run(ctx, cp.RunID, p.print)
			if err != nil {
				return err
			}
			if out.Terminal() {
				if out.Result != nil && out.Result.Status == models.FinalError {
					return fmt.Errorf("run %s failed", cp.RunID)
				}
				return nil
			}

			call := out.Pending
			value, err := p.ask(in, *call)
			if errors.Is(err, io.EOF) {
				if _, err := driver.Expire(ctx, cp.RunID, call.ID, p.print); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}
			reply := models.ToolReply{ToolCallID: call.ID, Value: value}
			if _, err := driver.Resume(ctx, cp.RunID, reply); err != nil {
				return err
			}
		}
	},
}

func init() {
	runCmd.Flags().StringVar(&runContextID, "context-id", "", "caller context id")
	runCmd.Flags().StringVar(&runMetadata, "metadata", "", "context metadata as a JSON object")
	runCmd.Flags().StringVar(&runID, "run-id", "", "run id (generated when empty)")
}

var (
	nodeColor  = color.New(color.FgCyan)
	toolColor  = color.New(color.FgYellow)
	doneColor  = color.New(color.FgGreen, color.Bold)
	alertColor = color.New(color.FgRed, color.Bold)
)

// printer renders run events as one line each.
type printer struct {
	out io.Writer
}

func (p printer) print(e models.Event) {
	switch data := e.Data.(type) {
	case models.StatusUpdate:
		agent := "-"
		if data.ActiveAgent != nil {
			agent = *data.ActiveAgent
		}
		fmt.Fprintf(p.out, "[%d] %s status=%s agent=%s\n", data.Step, nodeColor.Sprint(data.Node), data.Status, agent)
	case models.ToolCallData:
		args, _ := json.Marshal(data.Args)
		fmt.Fprintf(p.out, "    %s %s %s (%s)\n", data.Agent, toolColor.Sprint(data.Tool), args, data.ToolCallID)
	case models.FinalData:
		status := doneColor.Sprint(data.Status)
		if data.Status != models.FinalDone {
			status = alertColor.Sprint(data.Status)
		}
		fmt.Fprintf(p.out, "%s %s\n", status, data.Output)
		if data.Error != nil {
			fmt.Fprintf(p.out, "    %s: %s\n", data.Error.Code, data.Error.Message)
		}
	}
}

// ask reads the reply to an interactive tool call from one line of input.
// JSON values are used as is and anything else as plain text.
func (p printer) ask(in *bufio.Reader, call models.ToolCall) (any, error) {
	fmt.Fprintf(p.out, "%s reply to %s> ", toolColor.Sprint("?"), call.Tool)
	line, err := in.ReadString('\n')
	line = strings.TrimSpace(line)
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		fmt.Fprintln(p.out)
		return nil, err
	}

	var value any
	if json.Unmarshal([]byte(line), &value) == nil {
		return value, nil
	}
	return line, nil
}
