package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/iago/consulta-async/internal/client"
)

// flag names
const (
	flagServerAddress = "server-address"
	flagTimeout       = "timeout"
)

const envServerAddress = "CONSULTA_API_URL"

type rootOptions struct {
	serverAddress string
	timeout       time.Duration
	api           *client.Client
}

// NewRootCmd builds the consultactl command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "consultactl",
		Short:         "consultactl - command line client for the consulta gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Flag > env var > default
			if !cmd.Flags().Changed(flagServerAddress) {
				if envAddr := os.Getenv(envServerAddress); envAddr != "" {
					opts.serverAddress = envAddr
				}
			}
			if opts.serverAddress == "" {
				return errors.New("server address cannot be empty")
			}

			api, err := client.New(client.Options{BaseURL: opts.serverAddress, Timeout: opts.timeout})
			if err != nil {
				return err
			}
			opts.api = api
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&opts.serverAddress, flagServerAddress, "s", client.DefaultBaseURL,
		"Address of the consulta API (env: "+envServerAddress+")")
	root.PersistentFlags().DurationVar(&opts.timeout, flagTimeout, client.DefaultTimeout, "Per-request timeout")

	root.AddCommand(newSubmitCmd(opts))
	root.AddCommand(newStatusCmd(opts))
	root.AddCommand(newWaitCmd(opts))
	root.AddCommand(newHealthCmd(opts))
	return root
}

func printJSON(cmd *cobra.Command, value any) error {
	output, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("error formatting output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(output))
	return nil
}
