package main

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Rivega42/bookcab/pkg/cell"
	"github.com/Rivega42/bookcab/pkg/motion"
	"github.com/Rivega42/bookcab/pkg/wizard"
)

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of the cabinet",
		Long:    `Get mechanism state, position, endstops and servo states.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.GetStatus()
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}
			sensors, err := apiClient.GetSensors()
			if err != nil {
				return fmt.Errorf("failed to get sensors: %w", err)
			}

			cmd.Println(bold("Mechanism:"))
			cmd.Printf("  State: %s\n", stateText(st.Motion))
			cmd.Printf("  Busy: %s\n", bool2Text(st.Busy))
			if st.Degraded {
				cmd.Printf("  Degraded: %s (manual homing required, run 'bookcab home')\n", bool2Text(true))
			}
			if st.Motion.LastFault != "" {
				cmd.Printf("  Last fault: %s\n", color.RedString(st.Motion.LastFault))
			}
			cmd.Printf("  Position: %s\n", bold("x=%d y=%d tray=%d",
				st.Motion.Position.X, st.Motion.Position.Y, st.Motion.Position.Tray))
			cmd.Printf("  Homed: x=%s y=%s tray=%s\n",
				bool2Text(st.Motion.Homed[motion.AxisX]),
				bool2Text(st.Motion.Homed[motion.AxisY]),
				bool2Text(st.Motion.Homed[motion.AxisTray]))

			cmd.Println()
			cmd.Println(bold("Endstops:"))
			cmd.Printf("  X begin: %s  Y begin: %s  Tray begin: %s  Tray end: %s\n",
				bool2Text(sensors.XBegin), bool2Text(sensors.YBegin),
				bool2Text(sensors.TrayBegin), bool2Text(sensors.TrayEnd))

			cmd.Println()
			cmd.Println(bold("Servos:"))
			printServos(cmd, "lock", st.Motion.Locks)
			printServos(cmd, "shutter", st.Motion.Shutters)

			if st.Wizard.Mode != wizard.ModeMenu {
				cmd.Println()
				cmd.Println(bold("Wizard:"))
				cmd.Printf("  Mode: %s (step %d)\n", bold(string(st.Wizard.Mode)), st.Wizard.Step)
				if st.Wizard.Result != "" {
					cmd.Printf("  Result: %s\n", st.Wizard.Result)
				}
			}

			return nil
		},
	}
}

func NewCellsCommand() *cobra.Command {
	var extraction bool

	cmd := &cobra.Command{
		Use:     "cells",
		GroupID: gBasic,
		Short:   "List cell contents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				cells []cell.State
				err   error
			)
			if extraction {
				cells, err = apiClient.GetExtractionList()
			} else {
				cells, err = apiClient.GetCells()
			}
			if err != nil {
				return fmt.Errorf("failed to list cells: %w", err)
			}

			sort.Slice(cells, func(i, j int) bool {
				a, b := cells[i].Address, cells[j].Address
				if a.Side != b.Side {
					return a.Side < b.Side
				}
				if a.Col != b.Col {
					return a.Col < b.Col
				}
				return a.Row < b.Row
			})

			shown := 0
			for _, c := range cells {
				if !extraction && c.Status == cell.StatusEmpty {
					continue
				}
				line := fmt.Sprintf("%-12s %s", c.Address, statusText(c.Status))
				if c.BookID != "" {
					line += "  " + c.BookID
				}
				cmd.Println(line)
				shown++
			}
			if shown == 0 {
				cmd.Println("no cells to show")
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&extraction, "extraction", false, "only cells flagged for extraction")

	return cmd
}

func printServos(cmd *cobra.Command, name string, servos map[int]motion.ServoState) {
	ids := make([]int, 0, len(servos))
	for id := range servos {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		cmd.Printf("  %s %d: %s\n", name, id, servoText(servos[id]))
	}
}

func stateText(st motion.Status) string {
	switch st.State {
	case motion.StateFaulted:
		return color.RedString(string(st.State))
	case motion.StateMoving, motion.StateTrayMoving, motion.StateHoming:
		return color.YellowString(string(st.State))
	default:
		return string(st.State)
	}
}

func statusText(s cell.Status) string {
	switch s {
	case cell.StatusNeedsExtraction:
		return color.RedString(string(s))
	case cell.StatusOccupied:
		return color.GreenString(string(s))
	default:
		return string(s)
	}
}

func servoText(s motion.ServoState) string {
	switch s {
	case motion.ServoOpen:
		return color.GreenString("open")
	case motion.ServoClosed:
		return "closed"
	default:
		return color.YellowString("unknown")
	}
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
