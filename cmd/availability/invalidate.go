package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/cache"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/config"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/kv"
)

func invalidateCmd() *cobra.Command {
	var configPath string
	var date string

	cmd := &cobra.Command{
		Use:   "invalidate <placeId>",
		Short: "Drop cached availability for a place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			store := kv.New(cfg.KV)
			defer store.Close()
			c := cache.New(store)

			ctx := cmd.Context()
			placeID := args[0]
			if date != "" {
				c.Invalidate(ctx,
					cache.Key(cache.TypeAvailability, placeID, date),
					cache.StaleKey(cache.TypeAvailability, placeID, date),
				)
				fmt.Printf("invalidated availability for %s on %s\n", placeID, date)
				return nil
			}
			n := c.InvalidateByPattern(ctx, cache.Key(cache.TypeAvailability, placeID, "*"))
			n += c.InvalidateByPattern(ctx, cache.StaleKey(cache.TypeAvailability, placeID, "*"))
			fmt.Printf("invalidated %d availability entries for %s\n", n, placeID)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "optional YAML config overlay")
	cmd.Flags().StringVar(&date, "date", "", "restrict to a single YYYY-MM-DD day")
	return cmd
}
