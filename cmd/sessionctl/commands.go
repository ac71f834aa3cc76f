package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/msull/misc/internal/app"
	"github.com/msull/misc/internal/config"
	"github.com/msull/misc/internal/page"
	"github.com/msull/misc/internal/session"
)

type cli struct {
	cfg     *config.Config
	open    func(ctx context.Context) (*app.Records, error)
	out     io.Writer
	format  string
	verbose bool
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "sessionctl",
		Short: "Inspect and maintain stored dashboard sessions",
		Long: `sessionctl reads the record store the dashboard server writes to.

The store is selected with the same environment as the server
(STORE_BACKEND, DATABASE_URL, REDIS_URL, S3_BUCKET, ...).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			switch c.format {
			case formatText, formatJSON, formatYAML:
				return nil
			default:
				return fmt.Errorf("unknown format %q (want text, json or yaml)", c.format)
			}
		},
	}

	root.PersistentFlags().StringVarP(&c.format, "format", "o", formatText, "Output format: text, json or yaml")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Log debug output to stderr")

	root.AddCommand(
		pagesCmd(c),
		getCmd(c),
		historyCmd(c),
		expireCmd(c),
		sweepCmd(c),
	)
	return root
}

// withCatalog opens the store and builds the pages on it for one command.
func (c *cli) withCatalog(ctx context.Context, fn func(records *app.Records, catalog *page.Catalog) error) error {
	records, err := c.open(ctx)
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	defer records.Close()

	catalog, err := page.Default(page.Deps{
		Records:        records,
		TTLAttribute:   c.cfg.SessionTTLAttribute,
		Versioning:     c.cfg.SessionVersioning,
		ChatExpiration: c.cfg.SessionDefaultExpiration,
	})
	if err != nil {
		return err
	}
	return fn(records, catalog)
}

func lookupPage(catalog *page.Catalog, name string) (page.Page, error) {
	p, ok := catalog.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown page %q (known: %v)", name, catalog.Names())
	}
	return p, nil
}

func pagesCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "pages",
		Short: "List pages and the session kind each one stores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withCatalog(cmd.Context(), func(_ *app.Records, catalog *page.Catalog) error {
				var items []pageView
				for _, name := range catalog.Names() {
					p, _ := catalog.Lookup(name)
					items = append(items, pageView{Name: name, Kind: p.Kind()})
				}
				return c.print(items, func(w io.Writer) error {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "PAGE\tKIND")
					for _, it := range items {
						fmt.Fprintf(tw, "%s\t%s\n", it.Name, it.Kind)
					}
					return tw.Flush()
				})
			})
		},
	}
}

func getCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get <page> <session-id>",
		Short: "Show the stored state of a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withCatalog(ctx, func(records *app.Records, catalog *page.Catalog) error {
				p, err := lookupPage(catalog, args[0])
				if err != nil {
					return err
				}
				rec, err := records.GetExisting(ctx, p.Kind(), args[1])
				if err != nil {
					return err
				}
				if rec == nil {
					return fmt.Errorf("%w: %s/%s", session.ErrSessionNotFound, args[0], args[1])
				}
				v, err := newRecordView(*rec)
				if err != nil {
					return err
				}
				return c.print(v, v.writeText)
			})
		},
	}
}

func historyCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "history <page> <session-id>",
		Short: "List the stored versions of a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withCatalog(ctx, func(records *app.Records, catalog *page.Catalog) error {
				p, err := lookupPage(catalog, args[0])
				if err != nil {
					return err
				}
				rows, err := records.ListVersions(ctx, p.Kind(), args[1])
				if err != nil {
					return err
				}
				if len(rows) == 0 {
					return fmt.Errorf("%w: %s/%s", session.ErrSessionNotFound, args[0], args[1])
				}
				views := make([]recordView, 0, len(rows))
				for _, row := range rows {
					v, err := newRecordView(row)
					if err != nil {
						return err
					}
					views = append(views, v)
				}
				return c.print(views, func(w io.Writer) error {
					return writeHistory(w, views)
				})
			})
		},
	}
}

func expireCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "expire <page> <session-id> <expiration>",
		Short: "Change when a stored session expires",
		Long: `Change when a stored session expires.

The expiration is an RFC 3339 time, a unix timestamp or a duration
relative to now such as 30m or -1h.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := session.ParseExpiration(args[2])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return c.withCatalog(ctx, func(records *app.Records, catalog *page.Catalog) error {
				p, err := lookupPage(catalog, args[0])
				if err != nil {
					return err
				}
				if err := p.Expire(ctx, args[1], exp); err != nil {
					return err
				}
				rec, err := records.GetExisting(ctx, p.Kind(), args[1])
				if err != nil {
					return err
				}
				v, err := newRecordView(*rec)
				if err != nil {
					return err
				}
				return c.print(v, v.writeText)
			})
		},
	}
}

func sweepCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete records whose expiry has passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withCatalog(ctx, func(records *app.Records, _ *page.Catalog) error {
				n, err := records.DeleteExpired(ctx)
				if err != nil {
					return err
				}
				out := sweepView{Backend: records.Backend, Deleted: n}
				return c.print(out, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "deleted %d expired records from %s store\n", n, records.Backend)
					return err
				})
			})
		},
	}
}
