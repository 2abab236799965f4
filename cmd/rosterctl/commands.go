package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gyrinx-app/gyrinx-sub001/internal/middleware"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/pricing"
	"github.com/gyrinx-app/gyrinx-sub001/internal/roster/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	recomputePersist bool
	repairLimit      int
	priceOverride    bool
	exportOutput     string

	tokenUser   string
	tokenSecret string
	tokenRoles  []string
	tokenPerms  []string
	tokenTTL    time.Duration
)

func registerCommands(root *cobra.Command) {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rt.Migrate(); err != nil {
				return err
			}
			rt.Logger.Info("migration complete")
			return nil
		},
	}

	recomputeCmd := &cobra.Command{
		Use:   "recompute <roster|member|line_item> <id>",
		Short: "Recompute a node from the live catalogue",
		Args:  cobra.ExactArgs(2),
		RunE:  runRecompute,
	}
	recomputeCmd.Flags().BoolVar(&recomputePersist, "persist", false, "Write the result back to the cache and clear dirty flags")

	repairCmd := &cobra.Command{
		Use:   "repair",
		Short: "Resume pending settlements, then recompute dirty rosters",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := rt.Services.Facts.RepairDirty(cmd.Context(), repairLimit)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]int{"repaired": n})
		},
	}
	repairCmd.Flags().IntVar(&repairLimit, "limit", 100, "Maximum rosters to repair")

	priceCmd := &cobra.Command{
		Use:   "price <kind> <id> <price> | price --override <override-id> <price>",
		Short: "Change a catalogue price and reconcile affected rosters",
		Args:  cobra.RangeArgs(2, 3),
		RunE:  runPrice,
	}
	priceCmd.Flags().BoolVar(&priceOverride, "override", false, "Edit a price override instead of a template default")

	exportCmd := &cobra.Command{
		Use:   "export <roster-id>",
		Short: "Write a roster cost breakdown to an xlsx file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, name, err := rt.Services.Export.ExportXLSX(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			if exportOutput == "" {
				exportOutput = name
			}
			if err := f.SaveAs(exportOutput); err != nil {
				return fmt.Errorf("save %s: %w", exportOutput, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), exportOutput)
			return nil
		},
	}
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (defaults to roster_<name>.xlsx)")

	tokenCmd := &cobra.Command{
		Use:         "token",
		Short:       "Issue an API token for scripts and local testing",
		Annotations: map[string]string{"offline": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if tokenSecret == "" {
				return fmt.Errorf("--secret is required")
			}
			now := time.Now()
			s, err := middleware.IssueToken(tokenSecret, middleware.JWTClaims{
				UserID:      tokenUser,
				Roles:       tokenRoles,
				Permissions: tokenPerms,
				RegisteredClaims: jwt.RegisteredClaims{
					Subject:   tokenUser,
					IssuedAt:  jwt.NewNumericDate(now),
					ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
				},
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s)
			return nil
		},
	}
	tokenCmd.Flags().StringVar(&tokenUser, "user", "ops", "User ID")
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "JWT secret")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", nil, "Roles")
	tokenCmd.Flags().StringSliceVar(&tokenPerms, "perm", nil, "Permissions")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")

	root.AddCommand(migrateCmd, recomputeCmd, repairCmd, priceCmd, exportCmd, tokenCmd)
}

func runRecompute(cmd *cobra.Command, args []string) error {
	node := service.NodeRef{Kind: service.NodeKind(args[0]), ID: args[1]}
	switch node.Kind {
	case service.NodeRoster, service.NodeMember, service.NodeLineItem:
	default:
		return fmt.Errorf("unknown node kind %q", args[0])
	}
	f, err := rt.Services.Facts.Recompute(cmd.Context(), node, recomputePersist)
	if err != nil {
		return err
	}
	return printJSON(cmd, map[string]interface{}{
		"node":         node,
		"rating":       f.Rating,
		"stash_rating": f.StashRating,
		"currency":     f.Currency,
		"wealth":       f.Wealth(),
		"persisted":    recomputePersist,
	})
}

func runPrice(cmd *cobra.Command, args []string) error {
	price, err := strconv.Atoi(args[len(args)-1])
	if err != nil || price < 0 {
		return fmt.Errorf("invalid price %q", args[len(args)-1])
	}

	var result *service.ReconcileResult
	switch {
	case priceOverride && len(args) == 2:
		result, err = rt.Services.Catalogue.UpdateOverridePrice(cmd.Context(), args[0], price)
	case !priceOverride && len(args) == 3:
		ref := pricing.Ref{Kind: pricing.Kind(args[0]), ID: args[1]}
		result, err = rt.Services.Catalogue.UpdateTemplatePrice(cmd.Context(), ref, price)
	default:
		return fmt.Errorf("usage: %s", cmd.Use)
	}
	if err != nil {
		return err
	}
	if failed := result.Failed(); len(failed) > 0 {
		rt.Logger.Warn("some rosters failed to settle and remain dirty; run `rosterctl repair`",
			zap.Strings("rosters", failed))
	}
	return printJSON(cmd, result)
}
