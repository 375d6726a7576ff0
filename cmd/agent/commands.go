package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"liquidAgent/internal/coordinator"
	"liquidAgent/internal/model"
	"liquidAgent/internal/vault"
)

func runCycle(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadAgent(cmd, true, false)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := buildAgent(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	outcome, err := deps.orchestrator.Trigger(ctx)
	printOutcome(cmd.OutOrStdout(), outcome)
	return err
}

func runProposals(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadAgent(cmd, false, false)
	if err != nil {
		return err
	}
	defer logger.Sync()
	all, _ := cmd.Flags().GetBool("all")

	ctx := cmd.Context()
	deps, err := buildLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	var proposals []model.Proposal
	if all {
		count, err := deps.ledger.ProposalCount(ctx)
		if err != nil {
			return fmt.Errorf("proposal count: %w", err)
		}
		for id := uint64(0); id < count; id++ {
			p, err := deps.ledger.Proposal(ctx, id)
			if err != nil {
				return fmt.Errorf("proposal %d: %w", id, err)
			}
			proposals = append(proposals, p)
		}
	} else {
		proposals, err = vault.PendingProposals(ctx, deps.ledger)
		if err != nil {
			return err
		}
	}

	printProposals(cmd.OutOrStdout(), proposals)
	return nil
}

func runExecute(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadAgent(cmd, false, true)
	if err != nil {
		return err
	}
	defer logger.Sync()
	id, _ := cmd.Flags().GetUint64("id")

	ctx := cmd.Context()
	deps, err := buildLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	coord, err := coordinator.New(coordinator.Config{}, deps.ledger, deps.agent, deps.owner, nil, nil, logger.Named("coordinator"))
	if err != nil {
		return err
	}
	rc, err := coord.ExecuteProposal(ctx, id)
	if err != nil {
		return err
	}
	logger.Info("proposal executed", zap.Uint64("proposal_id", id), zap.String("tx", rc.TxHash), zap.Uint64("block", rc.BlockNumber))
	fmt.Fprintf(cmd.OutOrStdout(), "executed proposal %d in tx %s\n", id, rc.TxHash)
	return nil
}

func runAuthority(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadAgent(cmd, false, true)
	if err != nil {
		return err
	}
	defer logger.Sync()
	addr, _ := cmd.Flags().GetString("address")
	if !common.IsHexAddress(addr) {
		return fmt.Errorf("invalid address %q", addr)
	}

	ctx := cmd.Context()
	deps, err := buildLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	rc, err := deps.ledger.UpdateAgentAuthority(ctx, deps.owner, common.HexToAddress(addr))
	if err != nil {
		return fmt.Errorf("update agent authority: %w", err)
	}
	logger.Info("agent authority updated", zap.String("authority", common.HexToAddress(addr).Hex()), zap.String("tx", rc.TxHash))
	fmt.Fprintf(cmd.OutOrStdout(), "agent authority set to %s in tx %s\n", common.HexToAddress(addr).Hex(), rc.TxHash)
	return nil
}

func printOutcome(out io.Writer, o model.CycleOutcome) {
	table := tablewriter.NewWriter(out)
	table.Header("Cycle", "Trigger", "Status", "Confidence", "Proposal", "Executed", "Fallback", "Error")

	proposal := "-"
	if o.ProposalID != nil {
		proposal = fmt.Sprintf("%d", *o.ProposalID)
	}
	table.Append(
		o.ID,
		string(o.Trigger),
		string(o.Status),
		fmt.Sprintf("%.2f", o.Confidence),
		proposal,
		fmt.Sprintf("%t", o.Executed),
		fmt.Sprintf("%t", o.Fallback),
		o.Error,
	)
	table.Render()
}

func printProposals(out io.Writer, proposals []model.Proposal) {
	if len(proposals) == 0 {
		fmt.Fprintln(out, "no proposals")
		return
	}

	table := tablewriter.NewWriter(out)
	table.Header("ID", "Pools", "Ratios (bps)", "Reason", "Created", "Executed")

	for _, p := range proposals {
		ratios := make([]string, 0, len(p.Ratios))
		for _, r := range p.Ratios {
			ratios = append(ratios, fmt.Sprintf("%d", r))
		}
		executed := "no"
		if p.Executed {
			executed = time.Unix(p.ExecutedAt, 0).UTC().Format(time.RFC3339)
		}
		table.Append(
			fmt.Sprintf("%d", p.ID),
			strings.Join(p.Pools, "\n"),
			strings.Join(ratios, "/"),
			p.Reason,
			time.Unix(p.CreatedAt, 0).UTC().Format(time.RFC3339),
			executed,
		)
	}

	table.Render()
}
