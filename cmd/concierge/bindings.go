package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Strob0t/concierge/internal/middleware"
	"github.com/Strob0t/concierge/internal/port/toolprovider"
)

func bindingsCmd(load configLoader) *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "bindings",
		Short: "Manage which provider serves each domain for a tenant",
	}
	cmd.PersistentFlags().StringVar(&tenant, "tenant", middleware.DefaultTenantID, "Tenant ID")

	cmd.AddCommand(&cobra.Command{
		Use:   "set <domain> <provider>",
		Short: "Bind a domain (rooms, dining, events, commerce) to a provider",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			domain := toolprovider.Domain(args[0])
			if err := a.registry.Bind(cmd.Context(), tenant, domain, args[1]); err != nil {
				return fmt.Errorf("bind %s: %w", domain, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tenant %s: %s -> %s\n", tenant, domain, args[1])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List a tenant's explicit bindings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			store, cleanup, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			bindings, err := store.GetTenantBindings(cmd.Context(), tenant)
			if err != nil {
				return fmt.Errorf("list bindings: %w", err)
			}
			domains := make([]string, 0, len(bindings))
			for d := range bindings {
				domains = append(domains, string(d))
			}
			sort.Strings(domains)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "DOMAIN\tPROVIDER")
			for _, d := range domains {
				_, _ = fmt.Fprintf(w, "%s\t%s\n", d, bindings[toolprovider.Domain(d)])
			}
			return w.Flush()
		},
	})
	return cmd
}
