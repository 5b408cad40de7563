package cli

import (
	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"

	"papermarket/internal/market"
	"papermarket/internal/models"
	"papermarket/pkg/utils"
)

// addMarketCommands adds offline market commands. They run a private
// engine, so prices differ from a running server.
func addMarketCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newQuotesCmd(app))
	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newChartCmd(app))
	rootCmd.AddCommand(newStatusCmd())
}

func (a *App) engine() *market.Engine {
	universe := market.NewUniverse(market.DefaultSymbols)
	return market.NewEngine(universe, market.EngineConfig{
		TickInterval: a.Config.Market.TickInterval,
		Seed:         a.Config.Market.Seed,
		TimeScale:    a.Config.Market.TimeScale,
	}, a.Logger)
}

func newQuotesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quotes [symbol...]",
		Short: "Show simulated quotes",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			engine := app.engine()
			steps, _ := cmd.Flags().GetInt("steps")
			for range steps {
				engine.Step()
			}

			var quotes []models.Quote
			if len(args) == 0 {
				quotes = engine.Quotes()
			} else {
				for _, sym := range args {
					q, err := engine.Quote(sym)
					if err != nil {
						return err
					}
					quotes = append(quotes, q)
				}
			}

			if output.IsJSON() {
				return output.JSON(quotes)
			}

			output.Printf("%s  %s\n\n", output.BoldText("NSE"), output.MarketStatus(utils.GetMarketStatus()))
			table := NewTable(output, "SYMBOL", "PRICE", "CHANGE", "VOLUME", "MCAP", "P/E", "SECTOR")
			for _, q := range quotes {
				table.AddRow(
					output.Cyan(q.Symbol),
					FormatPrice(q.Price),
					output.signed(q.Change, FormatChange(q.Change, q.ChangePercent)),
					FormatVolume(q.Volume),
					FormatMarketCap(q.MarketCap),
					FormatRatio(q.PE),
					q.Sector,
				)
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().Int("steps", 1, "engine steps to run before printing")
	return cmd
}

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search symbols by ticker or name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			limit, _ := cmd.Flags().GetInt("limit")
			results := market.NewUniverse(market.DefaultSymbols).Search(args[0], limit)
			if output.IsJSON() {
				return output.JSON(results)
			}
			if len(results) == 0 {
				output.Dim("No symbols match %q", args[0])
				return nil
			}
			table := NewTable(output, "SYMBOL", "NAME", "SECTOR", "BASE")
			for _, s := range results {
				table.AddRow(s.Symbol, TruncateString(s.Name, 36), s.Sector, FormatPrice(s.BasePrice))
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().Int("limit", 10, "maximum results")
	return cmd
}

func newChartCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chart <symbol>",
		Short: "Print synthetic historical candles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			rangeFlag, _ := cmd.Flags().GetString("range")
			r, err := market.ParseRange(rangeFlag)
			if err != nil {
				return err
			}

			engine := app.engine()
			charts := market.NewCandleSynthesizer(engine.Universe(), engine, market.CandleConfig{})
			chart, err := charts.Chart(args[0], r)
			if err != nil {
				return err
			}

			if csvOut, _ := cmd.Flags().GetBool("csv"); csvOut {
				return gocsv.Marshal(chart.Data, output.Writer())
			}
			if output.IsJSON() {
				return output.JSON(chart)
			}

			output.Bold("%s (%s, %d candles)", chart.Symbol, chart.Range, len(chart.Data))
			table := NewTable(output, "TIME", "OPEN", "HIGH", "LOW", "CLOSE", "VOLUME")
			for _, c := range chart.Data {
				table.AddRow(
					FormatDateTime(c.Timestamp),
					FormatPrice(c.Open),
					FormatPrice(c.High),
					FormatPrice(c.Low),
					FormatPrice(c.Close),
					FormatVolume(c.Volume),
				)
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().String("range", string(market.DefaultRange), "chart range: 1m, 5m, 1d, 1w, 1mo, 3mo, 1y")
	cmd.Flags().Bool("csv", false, "write CSV instead of a table")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the NSE session status",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			status := utils.GetMarketStatus()
			next := utils.GetNextMarketOpen()
			if output.IsJSON() {
				_ = output.JSON(map[string]any{
					"status":   status,
					"nextOpen": next,
				})
				return
			}
			output.Printf("Market:    %s\n", output.MarketStatus(status))
			if status != models.MarketOpen {
				output.Printf("Next open: %s (%s)\n", FormatDateTime(next), FormatAge(next))
			}
			output.Dim("Session 09:15-15:30 IST on weekdays, MIS square-off warning 15:00-15:15")
		},
	}
}
