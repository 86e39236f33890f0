package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iago/consulta-async/internal/client"
	"github.com/iago/consulta-async/internal/domain"
)

func newSubmitCmd(opts *rootOptions) *cobra.Command {
	var kind, code string
	var wait bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a catalog query",
		Example: `  consultactl submit --tipo listar_todos
  consultactl submit --tipo buscar_codigo --codigo P001 --wait`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			queryKind := domain.QueryKind(kind)
			if !queryKind.Valid() {
				return fmt.Errorf("invalid --tipo %q: use %s or %s", kind, domain.QueryKindListAll, domain.QueryKindFindByKey)
			}
			if queryKind == domain.QueryKindFindByKey && code == "" {
				return fmt.Errorf("--codigo is required for %s", domain.QueryKindFindByKey)
			}

			submitted, err := opts.api.Submit(cmd.Context(), queryKind, code)
			if err != nil {
				return fmt.Errorf("error submitting query: %w", err)
			}
			if !wait {
				return printJSON(cmd, submitted)
			}

			status, err := opts.api.Wait(cmd.Context(), submitted.ID, interval)
			if err != nil {
				return fmt.Errorf("error waiting for query %d: %w", submitted.ID, err)
			}
			return printJSON(cmd, status)
		},
	}

	cmd.Flags().StringVarP(&kind, "tipo", "t", string(domain.QueryKindListAll), "Query kind (listar_todos, buscar_codigo)")
	cmd.Flags().StringVarP(&code, "codigo", "c", "", "Product code for buscar_codigo")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Poll until the query finishes")
	cmd.Flags().DurationVar(&interval, "interval", client.DefaultPollInterval, "Polling interval used with --wait")
	return cmd
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var id int64

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a query",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := opts.api.Status(cmd.Context(), id)
			if err != nil {
				if client.IsNotFound(err) {
					return fmt.Errorf("query %d not found", id)
				}
				return fmt.Errorf("error getting query %d: %w", id, err)
			}
			return printJSON(cmd, status)
		},
	}

	cmd.Flags().Int64VarP(&id, "id", "i", 0, "Query ID")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newWaitCmd(opts *rootOptions) *cobra.Command {
	var id int64
	var interval, timeout time.Duration

	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Poll a query until it reaches a terminal state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			status, err := opts.api.Wait(ctx, id, interval)
			if err != nil {
				if client.IsNotFound(err) {
					return fmt.Errorf("query %d not found", id)
				}
				return fmt.Errorf("error waiting for query %d: %w", id, err)
			}
			return printJSON(cmd, status)
		},
	}

	cmd.Flags().Int64VarP(&id, "id", "i", 0, "Query ID")
	cmd.Flags().DurationVar(&interval, "interval", client.DefaultPollInterval, "Polling interval")
	cmd.Flags().DurationVar(&timeout, "max-wait", 2*time.Minute, "Give up after this long (0 waits forever)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show gateway component health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			health, err := opts.api.Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("error checking health: %w", err)
			}
			return printJSON(cmd, health)
		},
	}
}
