package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
)

func newRefsCmd(g *globalFlags) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "refs",
		Short: "Manage named reference images",
		Long: `Manage the reference images a user can mention as @tag in prompts.

Examples:
  router refs put cat https://cdn/cat.png --user alice
  router refs list --user alice
  router refs delete cat --user alice`,
	}
	cmd.PersistentFlags().StringVarP(&userID, "user", "u", "cli", "owner of the references")

	cmd.AddCommand(&cobra.Command{
		Use:   "put <tag> <uri>",
		Short: "Create or replace a reference",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			asset := &domain.ReferenceAsset{Tag: args[0], URI: args[1]}
			if err := store.Put(cmd.Context(), userID, asset); err != nil {
				return fmt.Errorf("storing reference: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored @%s\n", strings.ToLower(strings.TrimPrefix(asset.Tag, "@")))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List a user's references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			refs, err := store.ListReferences(cmd.Context(), userID)
			if err != nil {
				return fmt.Errorf("listing references: %w", err)
			}
			if len(refs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No references.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TAG\tURI")
			for _, ref := range refs {
				fmt.Fprintf(w, "@%s\t%s\n", ref.Tag, ref.URI)
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <tag>",
		Short: "Delete a reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteReference(cmd.Context(), userID, args[0]); err != nil {
				return fmt.Errorf("deleting reference: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted @%s\n", strings.ToLower(strings.TrimPrefix(args[0], "@")))
			return nil
		},
	})

	return cmd
}
