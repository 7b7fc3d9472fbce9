package main

import (
	"fmt"

	"coursemarket/internal/config"
	"coursemarket/internal/infra/db"
	"coursemarket/internal/infra/logger"
	infraRepo "coursemarket/internal/infra/repository"
	"coursemarket/internal/usecase"

	"github.com/spf13/cobra"
)

func repairEnrollmentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair-enrollments [order-number]",
		Short: "Re-create missing enrollments for a paid order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.GoEnv, cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			gormDB, err := db.Connect()
			if err != nil {
				return err
			}

			uc := usecase.NewEnrollmentUsecase(
				infraRepo.NewEnrollmentGormRepository(gormDB),
				infraRepo.NewOrderGormRepository(gormDB),
				infraRepo.NewOrderItemGormRepository(gormDB),
				nil,
				usecase.SystemClock(),
				log,
			)

			res, err := uc.RepairOrder(cmd.Context(), args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "created: %d existed: %d failed: %v\n", res.Created, res.Existed, res.Failed)
			return err
		},
	}
}
