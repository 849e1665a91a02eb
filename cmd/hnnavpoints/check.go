package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/WazeDev/hn-navpoints/internal/api"
	"github.com/WazeDev/hn-navpoints/internal/config"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the house number service is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := config.GetAPIConfig()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := api.New(c.ServerURL, c.HouseNumbersPath, c.Timeout).Healthcheck(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s reachable\n", c.ServerURL)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
