package cli

import (
	"fmt"
	"strconv"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"

	"papermarket/internal/models"
	"papermarket/internal/trading"
	"papermarket/pkg/utils"
)

// addLedgerCommands adds account, orders and positions commands.
func addLedgerCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newAccountCmd(app))
	rootCmd.AddCommand(newOrdersCmd(app))
	rootCmd.AddCommand(newPositionsCmd(app))
}

func newAccountCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Inspect and manage a paper trading account",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show balance, margin and P&L",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			desk, err := app.Desk()
			if err != nil {
				return err
			}
			summary, err := desk.Account(cmd.Context(), app.UserID())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(summary)
			}
			printAccount(output, summary)
			return nil
		},
	})

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Restore the starting balance and delete all positions and orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			confirm, _ := cmd.Flags().GetBool("yes")
			if !confirm {
				output.Warning("This deletes every position and order of %s. Re-run with --yes to confirm.", app.UserID())
				return nil
			}
			desk, err := app.Desk()
			if err != nil {
				return err
			}
			acc, err := desk.ResetAccount(cmd.Context(), app.UserID())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(acc)
			}
			output.Success("✓ Account %s reset to %s", acc.UserID, FormatIndianCurrency(acc.Balance))
			return nil
		},
	}
	reset.Flags().Bool("yes", false, "confirm the reset")
	cmd.AddCommand(reset)

	cmd.AddCommand(&cobra.Command{
		Use:   "add-money <amount>",
		Short: "Deposit virtual money",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			amount, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[0], err)
			}
			desk, err := app.Desk()
			if err != nil {
				return err
			}
			acc, err := desk.AddMoney(cmd.Context(), app.UserID(), amount)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(acc)
			}
			output.Success("✓ Added %s, balance %s", FormatIndianCurrency(amount), FormatIndianCurrency(acc.Balance))
			return nil
		},
	})

	return cmd
}

func printAccount(output *Output, s *trading.AccountSummary) {
	output.Box("Account "+s.UserID, []string{
		fmt.Sprintf("Balance:        %s", FormatIndianCurrency(s.Balance)),
		fmt.Sprintf("Used Margin:    %s", FormatIndianCurrency(s.UsedMargin)),
		fmt.Sprintf("Realised P&L:   %s", output.FormatPnL(s.RealisedPnL)),
		fmt.Sprintf("Unrealised P&L: %s", output.FormatPnL(s.UnrealisedPnL)),
		fmt.Sprintf("Equity:         %s (%s)", FormatIndianCurrency(s.Equity), utils.FormatCompact(s.Equity)),
		fmt.Sprintf("Open Positions: %d", s.OpenPositions),
		fmt.Sprintf("Open Orders:    %d", s.OpenOrders),
		fmt.Sprintf("Updated:        %s", FormatAge(s.UpdatedAt)),
	})
}

func newOrdersCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Order history",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List open and recent orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			desk, err := app.Desk()
			if err != nil {
				return err
			}
			orders, err := desk.Orders(cmd.Context(), app.UserID())
			if err != nil {
				return err
			}

			if csvOut, _ := cmd.Flags().GetBool("csv"); csvOut {
				return gocsv.Marshal(orders, output.Writer())
			}
			if output.IsJSON() {
				return output.JSON(orders)
			}
			if len(orders) == 0 {
				output.Dim("No orders")
				return nil
			}

			table := NewTable(output, "ID", "TIME", "SYMBOL", "SIDE", "QTY", "PRICE", "TYPE", "PRODUCT", "STATUS", "NOTE")
			for _, o := range orders {
				table.AddRow(
					strconv.FormatInt(o.ID, 10),
					FormatDateTime(o.Timestamp),
					o.Symbol,
					output.Side(o.Side),
					strconv.Itoa(o.Quantity),
					FormatPrice(o.Price),
					string(o.Type),
					string(o.Product),
					orderStatus(output, o.Status),
					TruncateString(o.Note, 40),
				)
			}
			table.Render()
			return nil
		},
	}
	list.Flags().Bool("csv", false, "write CSV instead of a table")
	cmd.AddCommand(list)

	return cmd
}

func orderStatus(output *Output, status models.OrderStatus) string {
	switch status {
	case models.OrderStatusExecuted:
		return output.Green(string(status))
	case models.OrderStatusCancelled:
		return output.DimText(string(status))
	}
	return output.Yellow(string(status))
}

func newPositionsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "Positions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List open and recently closed positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			desk, err := app.Desk()
			if err != nil {
				return err
			}
			positions, err := desk.Positions(cmd.Context(), app.UserID())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(positions)
			}
			if len(positions) == 0 {
				output.Dim("No positions")
				return nil
			}

			table := NewTable(output, "ID", "SYMBOL", "SIDE", "QTY", "AVG", "PRODUCT", "MARGIN", "SL", "TARGET", "STATUS", "P&L")
			for _, p := range positions {
				pnl := "-"
				if p.PnL != nil {
					pnl = output.FormatPnL(*p.PnL)
				}
				table.AddRow(
					strconv.FormatInt(p.ID, 10),
					p.Symbol,
					output.Side(p.Side),
					strconv.Itoa(p.Quantity),
					FormatPrice(p.AvgPrice),
					string(p.Product),
					FormatIndianCurrency(p.Margin),
					FormatOptionalPrice(p.StopLoss),
					FormatOptionalPrice(p.Target),
					string(p.Status),
					pnl,
				)
			}
			table.Render()
			return nil
		},
	})

	return cmd
}
