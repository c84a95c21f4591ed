// Command strata is a thin client for inspecting strata-managed databases:
// connectivity checks, ad hoc queries, and notification channels.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/coregx/strata"
	"github.com/coregx/strata/q"
)

var (
	flagDialect string
	flagDSN     string
	flagTimeout time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "strata",
		Short:         "Cross-backend database client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flagDialect, "dialect", "sqlite",
		"backend dialect ("+strings.Join(strata.Dialects(), ", ")+")")
	rootCmd.PersistentFlags().StringVar(&flagDSN, "dsn", "",
		"data source name, or $STRATA_DSN")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 10*time.Second,
		"per-operation timeout")

	rootCmd.AddCommand(pingCommand())
	rootCmd.AddCommand(queryCommand())
	rootCmd.AddCommand(watchCommand())
	rootCmd.AddCommand(dialectsCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "strata:", err)
		os.Exit(1)
	}
}

// openPool connects using the persistent flags. The DSN falls back to the
// STRATA_DSN environment variable.
func openPool() (*strata.Pool, error) {
	dsn := flagDSN
	if dsn == "" {
		dsn = os.Getenv("STRATA_DSN")
	}
	if dsn == "" {
		return nil, fmt.Errorf("no DSN: pass --dsn or set STRATA_DSN")
	}
	return strata.Open(flagDialect, dsn)
}

func pingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check connectivity and report pool health",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := openPool()
			if err != nil {
				return err
			}
			defer pool.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
			defer cancel()

			start := time.Now()
			if err := pool.Ping(ctx); err != nil {
				return fmt.Errorf("ping %s: %w", pool.Dialect(), err)
			}
			fmt.Printf("%s: ok (%s)\n", pool.Dialect(), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

func queryCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "query <sql> [args...]",
		Short: "Run one statement and print the result",
		Long: "Run one statement and print the result. Placeholders are ?\n" +
			"regardless of backend; positional args fill them in order.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := openPool()
			if err != nil {
				return err
			}
			defer pool.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
			defer cancel()

			query, err := buildQuery(args[0], args[1:])
			if err != nil {
				return err
			}
			res, err := pool.Execute(ctx, query)
			if err != nil {
				return err
			}
			if res.Rows == nil {
				fmt.Printf("%d rows affected\n", res.RowsAffected)
				return nil
			}
			if asJSON {
				return printJSON(res)
			}
			return printTable(res)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print rows as JSON lines")
	return cmd
}

// buildQuery converts the placeholder arity panic into a usable error.
func buildQuery(text string, args []string) (query *q.Query, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	params := make([]any, len(args))
	for i, a := range args {
		params[i] = a
	}
	return q.SQL(text, params...), nil
}

func printTable(res *strata.Result) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	names := make([]string, len(res.Columns))
	for i, col := range res.Columns {
		names[i] = col.Name
	}
	fmt.Fprintln(w, strings.Join(names, "\t"))
	for _, row := range res.NullStringMaps() {
		cells := make([]string, len(names))
		for i, name := range names {
			if v := row[name]; v.Valid {
				cells[i] = v.String
			} else {
				cells[i] = "NULL"
			}
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("(%d rows)\n", len(res.Rows))
	return nil
}

func printJSON(res *strata.Result) error {
	enc := json.NewEncoder(os.Stdout)
	for _, row := range res.Maps() {
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
	return nil
}

func watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <channel>",
		Short: "Stream notifications from a channel (PostgreSQL only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := openPool()
			if err != nil {
				return err
			}
			defer pool.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			sub, err := pool.Watch(ctx, args[0])
			if err != nil {
				return err
			}
			defer sub.Close()

			fmt.Fprintf(os.Stderr, "listening on %q, ^C to stop\n", sub.Channel())
			for {
				select {
				case n, ok := <-sub.Notifications():
					if !ok {
						return nil
					}
					fmt.Printf("%s\t%s\n", n.Channel, n.Payload)
				case <-ctx.Done():
					return nil
				}
			}
		},
	}
}

func dialectsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dialects",
		Short: "List supported backend dialects",
		Run: func(cmd *cobra.Command, args []string) {
			for _, tag := range strata.Dialects() {
				fmt.Println(tag)
			}
		},
	}
}
