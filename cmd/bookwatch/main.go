// cmd/bookwatch/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"librarycatalog/internal/catalog"
	"librarycatalog/internal/clients"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	server    string
	username  string
	password  string
	recommend bool
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:          "bookwatch",
		Short:        "Print the catalog and every book added to it",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			err := run(ctx, opts, out)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&opts.server, "server", "http://localhost:4000", "catalog server URL")
	cmd.Flags().StringVar(&opts.username, "username", "", "log in as this user")
	cmd.Flags().StringVar(&opts.password, "password", os.Getenv("LOGIN_PASSWORD"), "login password")
	cmd.Flags().BoolVar(&opts.recommend, "recommend", false, "only show books in the logged in user's favorite genre")
	return cmd
}

func run(ctx context.Context, opts options, out io.Writer) error {
	client := clients.NewCatalogClient(opts.server)

	genre := ""
	if opts.username != "" {
		if _, err := client.Login(ctx, opts.username, opts.password); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}
	if opts.recommend {
		me, err := client.Me(ctx)
		if err != nil {
			return err
		}
		if me == nil {
			return errors.New("--recommend needs --username")
		}
		genre = me.FavoriteGenre
		fmt.Fprintf(out, "books in your favorite genre %s\n", genre)
	}

	show := func(b catalog.Book) {
		if genre != "" && !b.HasGenre(genre) {
			return
		}
		fmt.Fprintln(out, format(b))
	}

	cache := clients.NewBookCache()
	err := clients.Watch(ctx, client, cache, show)
	if genre != "" {
		fmt.Fprintf(out, "%d of %d books recommended\n", len(cache.ByGenre(genre)), cache.Len())
	} else {
		fmt.Fprintf(out, "%d books\n", cache.Len())
	}
	if genres := cache.Genres(); len(genres) > 0 {
		fmt.Fprintf(out, "genres: %s\n", strings.Join(genres, ", "))
	}
	return err
}

func format(b catalog.Book) string {
	author := "unknown author"
	if b.Author != nil {
		author = b.Author.Name
	}
	return fmt.Sprintf("%-40s %-25s %5d  %s", b.Title, author, b.Published, strings.Join(b.Genres, ", "))
}
