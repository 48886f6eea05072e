package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	fxmodules "gacha-ledger/internal/fx"
	"gacha-ledger/internal/service"
)

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Recompute global percentiles once for every ranked category",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			var sweeper *service.Sweeper
			app := fx.New(fxmodules.Module, fx.NopLogger, fx.Populate(&sweeper))
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = app.Stop(context.Background()) }()

			return sweeper.RunOnce(ctx)
		},
	}
}
