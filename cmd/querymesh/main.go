// Command querymesh answers natural-language questions about SQL databases.
//
//	querymesh query "top 5 products by 2023 sales" --connection 1
//	querymesh serve
//	querymesh connections add --name sales --type sqlite --database ./sales.db
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/querymesh"
	"github.com/hupe1980/querymesh/config"
)

var (
	version    = "0.1.0"
	configPath string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "querymesh",
		Short:         "Chat-to-SQL over an agent message bus",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to querymesh.yaml (default: $QUERYMESH_CONFIG or ./querymesh.yaml)")

	root.AddCommand(queryCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(connectionsCmd())
	root.AddCommand(versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "querymesh", version)
		},
	}
}

// openMesh loads the config and builds the façade. The caller closes it.
func openMesh() (*querymesh.QueryMesh, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return querymesh.New(func(o *querymesh.Options) {
		o.Config = cfg
	})
}
