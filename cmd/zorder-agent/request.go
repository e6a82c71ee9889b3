package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/zorder/internal/agent"
	"github.com/BrandonDHaskell/zorder/internal/zorder/types"
)

var (
	reqInvoice  string
	reqBiller   string
	reqMachine  string
	reqAdminURL string
)

func init() {
	rootCmd.AddCommand(requestCmd, statusCmd)
	requestCmd.Flags().StringVar(&reqInvoice, "invoice", "", "Invoice id being edited")
	requestCmd.Flags().StringVar(&reqBiller, "biller", "", "Biller requesting the edit")
	requestCmd.Flags().StringVar(&reqMachine, "machine", "", "Machine to arm (default: configured MACHINE_ID)")
	requestCmd.Flags().StringVar(&reqAdminURL, "admin-url", "", "Optional link included in the owner message")
	_ = requestCmd.MarkFlagRequired("invoice")
	_ = requestCmd.MarkFlagRequired("biller")
}

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Ask the owner to approve a bill edit",
	Long:  "Posts a bill-edited event to the coordinator and prints the action id.",
	Args:  cobra.NoArgs,
	RunE:  runRequest,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the coordinator holds an armable approval for this machine",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runRequest(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	machine := reqMachine
	if machine == "" {
		machine = cfg.MachineID
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	id, err := agent.NewClient(cfg.ServerURL, machine, cfg.HMACSecret).SendBillEdited(ctx, types.BillEditedRequest{
		InvoiceID: reqInvoice,
		BillerID:  reqBiller,
		MachineID: machine,
		AdminURL:  reqAdminURL,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	st, err := agent.NewClient(cfg.ServerURL, cfg.MachineID, cfg.HMACSecret).ArmStatus(ctx)
	if err != nil {
		return err
	}
	if !st.Armed {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: not armed\n", st.MachineID)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: armed by %s (created %s)\n", st.MachineID, st.ActionID, st.CreatedAt)
	return nil
}
