package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"spotfinder/handlers"
	"spotfinder/scraper"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	findCategory string
	findProduct  string
	findDebug    bool
	findJSON     bool
)

func init() {
	findCmd.Flags().StringVarP(&findCategory, "category", "c", "", "search term typed into the store search box")
	findCmd.Flags().StringVarP(&findProduct, "product", "p", "", "product title to look for")
	findCmd.Flags().BoolVar(&findDebug, "debug", false, "save a screenshot and the page markup")
	findCmd.Flags().BoolVar(&findJSON, "json", false, "print the full result as JSON")
	_ = findCmd.MarkFlagRequired("category")
	_ = findCmd.MarkFlagRequired("product")
	rootCmd.AddCommand(findCmd)
}

var findCmd = &cobra.Command{
	Use:   "find --category <term> --product <title>",
	Short: "Runs one lookup and prints the product's rank.",
	RunE: func(cmd *cobra.Command, args []string) error {
		category := strings.TrimSpace(findCategory)
		product := strings.TrimSpace(findProduct)
		if category == "" || product == "" {
			return errors.New("--category and --product must not be empty")
		}

		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		browser, err := scraper.NewRodBrowser(cfg.Browser, log)
		if err != nil {
			return err
		}
		defer browser.Close()

		finder := scraper.NewSpotFinder(browser, cfg.Scraper, log)

		ctx := cmd.Context()
		result, err := finder.FindSpot(ctx, category, product, scraper.FindOptions{SaveDebug: findDebug})
		if err != nil {
			var navErr *scraper.NavigationError
			if errors.As(err, &navErr) {
				log.Error("❌ Could not load the listing", zap.String("url", navErr.URL), zap.String("reason", string(navErr.Reason)))
			}
			return err
		}

		resp := handlers.NewSpotResponse(result)
		if findJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Search URL: %s\n", resp.SearchURL)
		if resp.Found {
			fmt.Fprintf(out, "Rank: %d  (%s, confidence %.2f)\n", *resp.Rank, resp.MatchTier, resp.Confidence)
			fmt.Fprintf(out, "Matched:  %s\n", resp.MatchedTitle)
		} else {
			fmt.Fprintf(out, "Not found in the first %d products (best similarity %.2f)\n", resp.TotalSeen, resp.Confidence)
			for i, title := range resp.SeenTitles {
				fmt.Fprintf(out, "  %2d. %s\n", i+1, title)
			}
		}
		if resp.UsedFallback {
			fmt.Fprintln(out, "Note: the relaxed extractor was used")
		}
		for _, path := range resp.DebugArtifacts {
			fmt.Fprintf(out, "Saved %s\n", path)
		}
		return nil
	},
}
