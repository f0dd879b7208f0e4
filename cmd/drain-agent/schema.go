package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/velmie/drain"
	"github.com/velmie/drain/config"
	"github.com/velmie/drain/mysql"
)

func newSchemaCommand(flags *globalFlags) *cobra.Command {
	var (
		table    string
		jsonBody bool
		apply    bool
		dsn      string
	)

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print or apply the MySQL channel table DDL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Read(flags.configPath, flags.envFiles...)
			if err != nil {
				return err
			}
			if table == "" {
				table = cfg.Channel.MySQL.Table
			}
			if table == "" {
				table = "drain_events"
			}

			build := mysql.Schema
			if jsonBody {
				build = mysql.SchemaJSON
			}
			ddl, err := build(table)
			if err != nil {
				return fmt.Errorf("%w: %w", drain.ErrConfiguration, err)
			}

			if !apply {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), ddl)
				return err
			}

			if dsn == "" {
				dsn = cfg.Channel.MySQL.DSN
			}
			if dsn == "" {
				return fmt.Errorf("%w: dsn is required to apply the schema", drain.ErrConfiguration)
			}
			db, err := openDB(cmd.Context(), dsn)
			if err != nil {
				return err
			}
			defer db.Close()

			if _, err := db.ExecContext(cmd.Context(), ddl); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "table %s ready\n", table)
			return err
		},
	}

	cmd.Flags().StringVar(&table, "table", "", "Event table name (defaults to channel.mysql.table)")
	cmd.Flags().BoolVar(&jsonBody, "json", false, "Use a JSON body column instead of LONGBLOB")
	cmd.Flags().BoolVar(&apply, "apply", false, "Execute the DDL instead of printing it")
	cmd.Flags().StringVar(&dsn, "dsn", "", "MySQL DSN (defaults to channel.mysql.dsn)")

	return cmd
}
