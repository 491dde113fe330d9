package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-av/internal/bridges/av"
	"github.com/nerrad567/gray-logic-av/internal/discovery"
	"github.com/nerrad567/gray-logic-av/internal/infrastructure/config"
)

func newDiscoverCmd(opts *options) *cobra.Command {
	var (
		service string
		domain  string
		timeout time.Duration
		asJSON  bool
		useCfg  bool
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Browse mDNS for displays and TVs",
		Long: `Browse the local network for DNS-SD announcements and print every
instance found. Use --service to look for another service type, for
example _philipstv_rpc._tcp.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if useCfg {
				cfg, err := config.Load(opts.configPath)
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}
				if !cmd.Flags().Changed("service") {
					service = cfg.Discovery.Service
				}
				if !cmd.Flags().Changed("domain") {
					domain = cfg.Discovery.Domain
				}
				if !cmd.Flags().Changed("timeout") {
					timeout = cfg.Discovery.Timeout
				}
			}

			instances, err := discovery.Browse(cmd.Context(), service, domain, timeout)
			if err != nil {
				return err
			}
			devices := toDiscovered(instances, service)
			if asJSON {
				return writeDiscoveredJSON(cmd.OutOrStdout(), devices)
			}
			return writeDiscoveredTable(cmd.OutOrStdout(), devices)
		},
	}

	cmd.Flags().StringVar(&service, "service", discovery.DefaultService, "DNS-SD service type")
	cmd.Flags().StringVar(&domain, "domain", discovery.DefaultDomain, "DNS-SD domain")
	cmd.Flags().DurationVar(&timeout, "timeout", discovery.DefaultTimeout, "How long to listen for answers")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	cmd.Flags().BoolVar(&useCfg, "use-config", false, "Take unset flags from the discovery section of the config file")
	return cmd
}

// toDiscovered maps mDNS instances onto discovery announcements. The
// platform follows the browsed service type.
func toDiscovered(instances []discovery.Instance, service string) []av.DiscoveredDevice {
	platform := string(av.KindSamsungMDC)
	if strings.Contains(strings.ToLower(service), "philips") {
		platform = string(av.KindPhilipsTV)
	}

	out := make([]av.DiscoveredDevice, 0, len(instances))
	for _, inst := range instances {
		name := inst.Name
		if model := inst.TXT["model"]; model != "" && name == "" {
			name = model
		}
		out = append(out, av.DiscoveredDevice{
			Platform:      platform,
			Host:          inst.Address(),
			Port:          inst.Port,
			Addresses:     inst.IPs,
			SuggestedName: name,
		})
	}
	return out
}

func writeDiscoveredJSON(w io.Writer, devices []av.DiscoveredDevice) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(devices)
}

func writeDiscoveredTable(w io.Writer, devices []av.DiscoveredDevice) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(w, "no devices found")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPLATFORM\tHOST\tPORT")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", d.SuggestedName, d.Platform, d.Host, d.Port)
	}
	return tw.Flush()
}
