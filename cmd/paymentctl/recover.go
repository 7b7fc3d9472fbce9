package main

import (
	"errors"
	"fmt"
	"strings"

	"coursemarket/internal/domain/model"
	"coursemarket/internal/infra/db"
	infraRepo "coursemarket/internal/infra/repository"
	"coursemarket/internal/orderref"
	repo "coursemarket/internal/repository"

	"github.com/spf13/cobra"
)

// recover-ref は振込内容などの文字列から注文番号を取り出す。
// --lookup を付けるとDBで注文を探して状態も出す。
func recoverRefCmd() *cobra.Command {
	var lookup bool

	cmd := &cobra.Command{
		Use:   "recover-ref [narration]",
		Short: "Recover an order number from transfer narration text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")

			orderNumber, how := recoverRef(text)
			if orderNumber == "" {
				return fmt.Errorf("no order number found in %q", text)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "order_number: %s (%s)\n", orderNumber, how)

			if !lookup {
				return nil
			}

			gormDB, err := db.Connect()
			if err != nil {
				return err
			}
			orders := infraRepo.NewOrderGormRepository(gormDB)

			found := []model.Order{}
			o, err := orders.FindByOrderNumber(cmd.Context(), orderNumber)
			switch {
			case err == nil:
				found = append(found, o)
			case errors.Is(err, repo.ErrNotFound):
				found, err = orders.ListByStrippedOrderNumber(cmd.Context(), orderref.Strip(orderNumber), 20)
				if err != nil {
					return err
				}
			default:
				return err
			}
			if len(found) == 0 {
				return fmt.Errorf("order %s not found", orderNumber)
			}

			// 複数なら全部出す（どれに充てるかは人が決める）
			for _, o := range found {
				fmt.Fprintf(cmd.OutOrStdout(), "%s status: %s provider: %s user: %d total: %d %s\n",
					o.OrderNumber, o.Status, o.Provider, o.UserID, o.TotalAmount, o.Currency)
			}
			if len(found) > 1 {
				return fmt.Errorf("%d orders match %s", len(found), orderNumber)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&lookup, "lookup", "l", false, "Look the order up in the database")

	return cmd
}

func recoverRef(text string) (string, string) {
	if n, ok := orderref.FromNarration(text); ok {
		return n, "narration"
	}
	if n, ok := orderref.ExtractDateBlock(text); ok {
		return n, "date block"
	}
	return "", ""
}
