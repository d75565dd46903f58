package main

import (
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hupe1980/querymesh/datasource"
)

var errNoStore = errors.New("no connection store configured; set store.path or QUERYMESH_STORE_PATH")

func connectionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connections",
		Short: "Manage database connections",
	}
	cmd.AddCommand(connectionsListCmd(), connectionsAddCmd(), connectionsDeleteCmd())
	return cmd
}

func connectionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured and stored connections",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mesh, err := openMesh()
			if err != nil {
				return err
			}
			defer mesh.Close()

			conns, err := mesh.Connections().ListConnections(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTYPE\tDATABASE")
			for _, c := range conns {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", c.ID, c.Name, c.DBType, c.Database)
			}
			return tw.Flush()
		},
	}
}

func connectionsAddCmd() *cobra.Command {
	var info datasource.ConnectionInfo
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a connection to the store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(func(st *datasource.SQLiteStore) error {
				added, err := st.AddConnection(cmd.Context(), info)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added connection %d (%s)\n", added.ID, added.Name)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.Int64Var(&info.ID, "id", 0, "fixed id (default: next free id)")
	f.StringVar(&info.Name, "name", "", "unique connection name")
	f.StringVar(&info.DBType, "type", "sqlite", "database type")
	f.StringVar(&info.Database, "database", "", "database name or file path")
	f.StringVar(&info.Host, "host", "", "database host")
	f.IntVar(&info.Port, "port", 0, "database port")
	f.StringVar(&info.Username, "user", "", "database user")
	f.StringVar(&info.Password, "password", "", "database password")
	f.StringVar(&info.DSN, "dsn", "", "driver DSN, overrides the other fields")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func connectionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a stored connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q: %w", args[0], err)
			}
			return withStore(func(st *datasource.SQLiteStore) error {
				if err := st.DeleteConnection(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted connection %d\n", id)
				return nil
			})
		},
	}
}

func withStore(fn func(st *datasource.SQLiteStore) error) error {
	mesh, err := openMesh()
	if err != nil {
		return err
	}
	defer mesh.Close()
	st := mesh.Store()
	if st == nil {
		return errNoStore
	}
	return fn(st)
}

