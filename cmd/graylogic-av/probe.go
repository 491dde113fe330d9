package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-av/internal/bridges/av"
)

func newProbeCmd() *cobra.Command {
	var (
		host    string
		port    int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check that a Samsung display answers MDC before adding it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			err := av.Probe(ctx, host, port)
			fmt.Fprintf(cmd.OutOrStdout(), "%s:%d %s\n", host, port, probeResult(err))
			return err
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Display host or IP address")
	cmd.Flags().IntVar(&port, "port", 1515, "MDC TCP port")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Probe timeout")
	//nolint:errcheck // Flag is defined above
	cmd.MarkFlagRequired("host")
	return cmd
}

// probeResult names a probe outcome the way the setup flow reports it.
func probeResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, av.ErrCannotConnect):
		return "cannot_connect"
	default:
		return "unknown"
	}
}
