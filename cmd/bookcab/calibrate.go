package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Rivega42/bookcab/pkg/calib"
	"github.com/Rivega42/bookcab/pkg/wizard"
)

func NewCalibrationCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "calibration",
		Aliases: []string{"cali"},
		Short:   "Manage the calibration document",
		GroupID: gCalibration,
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current calibration document",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := apiClient.GetCalibration()
			if err != nil {
				return fmt.Errorf("failed to get calibration: %w", err)
			}
			b, err := json.MarshalIndent(p, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(b))
			return nil
		},
	}

	exportCmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Export the calibration document to a file (or stdout)",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := apiClient.ExportCalibration()
			if err != nil {
				return fmt.Errorf("failed to export calibration: %w", err)
			}
			if len(args) == 0 {
				cmd.Println(string(b))
				return nil
			}
			if err := os.WriteFile(args[0], b, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", args[0], err)
			}
			cmd.Printf("calibration written to %s\n", args[0])
			return nil
		},
	}

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the calibration document from a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			var p calib.Profile
			if err := json.Unmarshal(b, &p); err != nil {
				return fmt.Errorf("%s is not a valid calibration document: %w", args[0], err)
			}
			if err := apiClient.SetCalibration(p); err != nil {
				return fmt.Errorf("daemon rejected the document: %w", err)
			}
			cmd.Println("calibration replaced")
			return nil
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset calibration to factory defaults",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := apiClient.ResetCalibration(); err != nil {
				return fmt.Errorf("failed to reset calibration: %w", err)
			}
			cmd.Println("calibration reset to defaults")
			return nil
		},
	}

	cmd.AddCommand(showCmd, exportCmd, importCmd, resetCmd)
	return cmd
}

func NewWizardCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "wizard",
		Short:   "Drive the interactive calibration wizard",
		GroupID: gCalibration,
		Long: `Drive the interactive calibration wizard.

The wizard runs inside the daemon and holds the mechanism for the whole
session. Modes: kinematics, points10, grab, blocked, quicktest.`,
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current wizard mode and step",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.WizardStatus()
			if err != nil {
				return fmt.Errorf("failed to get wizard state: %w", err)
			}
			printWizardStatus(cmd, st)
			return nil
		},
	}

	startCmd := &cobra.Command{
		Use:       "start <mode>",
		Short:     "Enter a wizard mode",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"kinematics", "points10", "grab", "blocked", "quicktest"},
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := apiClient.WizardStart(args[0])
			if err != nil {
				return fmt.Errorf("failed to start wizard: %w", err)
			}
			printWizardStatus(cmd, st)
			return nil
		},
	}

	var in wizard.Input
	stepCmd := &cobra.Command{
		Use:   "step <action>",
		Short: "Feed one input to the active wizard mode",
		Long: `Feed one input to the active wizard mode.

Examples:
  bookcab wizard step pulse
  bookcab wizard step answer --answer up
  bookcab wizard step jog --direction +x --step-size 10
  bookcab wizard step commit
  bookcab wizard step side --side front
  bookcab wizard step adjust --param extend1 --delta 10
  bookcab wizard step test --param extend1
  bookcab wizard step toggle --side front --col 1 --row 5
  bookcab wizard step run --side front --col 1 --row 5
  bookcab wizard step done`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Action = args[0]
			st, err := apiClient.WizardStep(in)
			if err != nil {
				return fmt.Errorf("wizard step failed: %w", err)
			}
			printWizardStatus(cmd, st)
			return nil
		},
	}
	f := stepCmd.Flags()
	f.StringVar(&in.Answer, "answer", "", "observed motion direction (up, down, left, right)")
	f.StringVar(&in.Direction, "direction", "", "jog direction (+x, -x, +y, -y)")
	f.IntVar(&in.StepSize, "step-size", 1, "jog magnitude in steps (1, 10, 100)")
	f.StringVar(&in.Side, "side", "", "cabinet side (front, back)")
	f.StringVar(&in.Param, "param", "", "grab parameter (extend1, retract, extend2)")
	f.IntVar(&in.Delta, "delta", 0, "grab parameter adjustment (+-10, +-100)")
	f.IntVar(&in.Col, "col", 0, "column index")
	f.IntVar(&in.Row, "row", 0, "row index")

	exitCmd := &cobra.Command{
		Use:   "exit",
		Short: "Leave the wizard, re-home and release the mechanism",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := apiClient.WizardExit(); err != nil {
				return fmt.Errorf("failed to exit wizard: %w", err)
			}
			cmd.Println("wizard closed")
			return nil
		},
	}

	cmd.AddCommand(statusCmd, startCmd, stepCmd, exitCmd)
	return cmd
}

func NewBlockedCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "blocked <side> <col> <row>",
		Short:   "Toggle the blocked flag of a cell",
		GroupID: gCalibration,
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			col, err := parseInt(args[1], "col")
			if err != nil {
				return err
			}
			row, err := parseInt(args[2], "row")
			if err != nil {
				return err
			}
			blocked, err := apiClient.ToggleBlocked(args[0], col, row)
			if err != nil {
				return fmt.Errorf("failed to toggle blocked cell: %w", err)
			}
			if blocked {
				cmd.Printf("cell %s:%d:%d is now blocked\n", args[0], col, row)
			} else {
				cmd.Printf("cell %s:%d:%d is now available\n", args[0], col, row)
			}
			return nil
		},
	}
}

func printWizardStatus(cmd *cobra.Command, st *wizard.Status) {
	if st.Mode == wizard.ModeMenu {
		cmd.Println("wizard is idle")
		return
	}
	cmd.Printf("mode: %s  step: %d\n", bold(string(st.Mode)), st.Step)
	if st.Side != "" {
		cmd.Printf("side: %s\n", st.Side)
	}
	if st.Result != "" {
		cmd.Printf("result: %s\n", st.Result)
	}
}
