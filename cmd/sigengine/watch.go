package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"signalengine/internal/store/redis"
)

func watchCmd() *cobra.Command {
	var (
		asset  string
		latest bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream published decisions from Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup("sigengine-watch")
			if err != nil {
				return err
			}
			pub, err := redis.New(redis.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
			if err != nil {
				return err
			}
			defer pub.Close()

			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			w := cmd.OutOrStdout()
			if latest {
				if asset == "" {
					return fmt.Errorf("--latest needs --asset")
				}
				b, err := pub.Latest(ctx, asset)
				if err != nil {
					return err
				}
				if b == nil {
					return fmt.Errorf("no decision stored for %s", asset)
				}
				_, err = fmt.Fprintln(w, string(b))
				return err
			}

			out := make(chan []byte, 64)
			errCh := make(chan error, 1)
			go func() {
				errCh <- pub.Watch(ctx, asset, out)
				close(out)
			}()
			for msg := range out {
				fmt.Fprintln(w, string(msg))
			}
			return <-errCh
		},
	}
	cmd.Flags().StringVar(&asset, "asset", "", "Asset to watch (default: all)")
	cmd.Flags().BoolVar(&latest, "latest", false, "Print the latest stored decision and exit")
	return cmd
}
