package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Rivega42/bookcab/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

func NewIssueCommand() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:     "issue <book-id>",
		Short:   "Store a book into a free cell",
		GroupID: gBasic,
		Long: `Store a book into a free cell.

The daemon picks the nearest free cell, opens the side, runs the grab
cycle and records which cell holds the book. The cell address is printed
on success.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			addr, err := apiClient.Issue(args[0], user)
			if err != nil {
				return fmt.Errorf("failed to issue book: %v", err)
			}

			logrus.Infof("book %s stored in cell %s", args[0], addr)

			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "user the book is issued to")

	return cmd
}

func NewReturnCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "return <book-id>",
		Short:   "Hand a stored book back",
		GroupID: gBasic,
		Long: `Hand a stored book back.

The daemon looks up which cell holds the book, runs the grab cycle in
reverse and frees the cell.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			addr, err := apiClient.Return(args[0])
			if err != nil {
				return fmt.Errorf("failed to return book: %v", err)
			}

			logrus.Infof("book %s handed back from cell %s", args[0], addr)

			return nil
		},
	}
}

func NewExtractCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:     "extract [side:col:row]",
		Short:   "Empty a cell to the access window",
		GroupID: gBasic,
		Long: `Empty a cell to the access window.

Pass a cell address like 'front:2:13' to empty a single cell, or --all
to empty every occupied cell in sequence.`,
		RunE: func(_ *cobra.Command, args []string) error {
			if all {
				res, err := apiClient.ExtractAll()
				if err != nil {
					return fmt.Errorf("failed to extract all cells: %v", err)
				}
				logrus.Infof("extracted %d cells, %d failed", res.Succeeded, res.Failed)
				return nil
			}

			if len(args) != 1 {
				return fmt.Errorf("expected a cell address or --all")
			}
			if err := apiClient.Extract(args[0]); err != nil {
				return fmt.Errorf("failed to extract cell %s: %v", args[0], err)
			}

			logrus.Infof("cell %s extracted", args[0])

			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "extract every occupied cell")

	return cmd
}

func NewInventoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "inventory",
		Short:   "Sweep all occupied cells and verify their contents",
		GroupID: gBasic,
		RunE: func(_ *cobra.Command, _ []string) error {
			res, err := apiClient.RunInventory()
			if err != nil {
				return fmt.Errorf("inventory run failed: %v", err)
			}

			logrus.Infof("inventory done: %d checked, %d verified, %d mismatched",
				res.Checked, res.Verified, res.Mismatched)
			if res.Mismatched > 0 {
				logrus.Warn("mismatched cells are flagged for extraction, see 'bookcab cells --extraction'")
			}

			return nil
		},
	}
}

func NewHomeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "home",
		Short:   "Home all axes",
		GroupID: gBasic,
		Long: `Home all axes.

Runs the full homing sequence (tray, then X, then Y) and clears the
degraded flag if the sequence succeeds.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			pos, err := apiClient.Home()
			if err != nil {
				return fmt.Errorf("homing failed: %v", err)
			}

			logrus.Infof("homed, position x=%d y=%d tray=%d", pos.X, pos.Y, pos.Tray)

			return nil
		},
	}
}
