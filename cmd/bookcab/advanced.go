package main

import (
	"context"
	"fmt"
	"net"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/Rivega42/bookcab/pkg/events"
)

func NewTestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "test",
		Short:   "Exercise individual actuators",
		GroupID: gAdvanced,
		Long: `Exercise individual actuators.

These commands bypass the normal operation flow and drive one motor or
servo at a time. Use them during bring-up and troubleshooting only.`,
	}

	motorCmd := &cobra.Command{
		Use:   "motor <a|b|tray> <steps>",
		Short: "Move one motor by a signed step count",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := parseInt(args[1], "steps")
			if err != nil {
				return err
			}
			pos, err := apiClient.TestMotor(args[0], steps)
			if err != nil {
				return fmt.Errorf("motor test failed: %w", err)
			}
			cmd.Printf("position: x=%d y=%d tray=%d\n", pos.X, pos.Y, pos.Tray)
			return nil
		},
	}

	lockCmd := &cobra.Command{
		Use:   "lock <1|2> <open|closed>",
		Short: "Drive one lock servo",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			which, err := parseInt(args[0], "lock")
			if err != nil {
				return err
			}
			if err := apiClient.TestLock(which, args[1]); err != nil {
				return fmt.Errorf("lock test failed: %w", err)
			}
			cmd.Printf("lock %d is now %s\n", which, args[1])
			return nil
		},
	}

	shutterCmd := &cobra.Command{
		Use:   "shutter <1|2> <open|closed>",
		Short: "Drive one shutter servo",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			which, err := parseInt(args[0], "shutter")
			if err != nil {
				return err
			}
			if err := apiClient.TestShutter(which, args[1]); err != nil {
				return fmt.Errorf("shutter test failed: %w", err)
			}
			cmd.Printf("shutter %d is now %s\n", which, args[1])
			return nil
		},
	}

	diagCmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Print daemon diagnostics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			diag, err := apiClient.GetDiagnostics()
			if err != nil {
				return fmt.Errorf("failed to get diagnostics: %w", err)
			}
			cmd.Printf("mock board: %s\n", bool2Text(diag.Mock))
			cmd.Printf("state: %s\n", stateText(diag.Motion))
			c := diag.Counters
			cmd.Printf("counters: issues=%d returns=%d extractions=%d inventories=%d faults=%d homeFailures=%d\n",
				c.Issues, c.Returns, c.Extractions, c.Inventories, c.Faults, c.HomeFailures)
			if diag.NextRun != "" {
				cmd.Printf("next scheduled inventory: %s\n", diag.NextRun)
			}
			return nil
		},
	}

	cmd.AddCommand(motorCmd, lockCmd, shutterCmd, diagCmd)
	return cmd
}

func NewEventsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "events",
		Short:   "Stream daemon events to stdout",
		GroupID: gAdvanced,
		Long: `Stream daemon events to stdout.

Subscribes to the daemon's event feed and prints progress, position,
sensor and error events as they happen. Interrupt with Ctrl-C.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dialer := websocket.Dialer{
				NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", unixSocketPath)
				},
			}
			conn, _, err := dialer.Dial("ws://unix/events", nil)
			if err != nil {
				return fmt.Errorf("failed to connect to event feed: %w", err)
			}
			defer conn.Close()

			for {
				var ev events.Event
				if err := conn.ReadJSON(&ev); err != nil {
					return fmt.Errorf("event feed closed: %w", err)
				}
				printEvent(cmd, ev)
			}
		},
	}
}

func printEvent(cmd *cobra.Command, ev events.Event) {
	switch ev.Name {
	case events.Progress:
		p, err := events.DecodeAs[events.ProgressEvent](ev)
		if err == nil {
			cmd.Printf("progress  [%d/%d] %s\n", p.Step, p.Total, p.Message)
			return
		}
	case events.Error:
		e, err := events.DecodeAs[events.ErrorEvent](ev)
		if err == nil {
			cmd.Printf("error     %s: %s\n", e.Kind, e.Message)
			return
		}
	case events.Position:
		p, err := events.DecodeAs[events.PositionEvent](ev)
		if err == nil {
			cmd.Printf("position  x=%d y=%d tray=%d\n", p.X, p.Y, p.Tray)
			return
		}
	case events.Sensors:
		s, err := events.DecodeAs[events.SensorsEvent](ev)
		if err == nil {
			cmd.Printf("sensors   xBegin=%v yBegin=%v trayBegin=%v trayEnd=%v\n",
				s.XBegin, s.YBegin, s.TrayBegin, s.TrayEnd)
			return
		}
	}
	cmd.Printf("%-9s %s\n", ev.Name, string(ev.Data))
}
