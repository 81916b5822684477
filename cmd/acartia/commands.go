package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lborres/acartia/core"
	"github.com/lborres/acartia/pkg/crypto"
	"github.com/lborres/acartia/replication"
	"github.com/lborres/acartia/store"
)

const defaultConfigPath = "acartia.yaml"

type runFunc func(cmd *cobra.Command, a *app, args []string) error

func newRootCmd() *cobra.Command {
	configPath := os.Getenv("ACARTIA_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	// withApp loads the config and opens the app for the duration of a command
	withApp := func(run runFunc) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.close(); err != nil {
					a.logger.Warn("shutdown", "error", err)
				}
			}()
			return run(cmd, a, args)
		}
	}

	root := &cobra.Command{
		Use:           "acartia",
		Short:         "Headless client for the sightings dashboard",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", configPath, "config file (env ACARTIA_CONFIG)")

	root.AddCommand(
		newLoginCmd(withApp),
		newLogoutCmd(withApp),
		newSightingsCmd(withApp),
		newExportCmd(withApp),
		newUsersCmd(withApp),
		newTokensCmd(withApp),
		newProfileCmd(withApp),
		newRouteCmd(withApp),
		newKeygenCmd(),
		newPeerCmd(withApp),
		newReplicaCmd(withApp),
	)
	return root
}

// --- Session ---

func newLoginCmd(withApp func(runFunc) func(*cobra.Command, []string) error) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and persist the session token",
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			if password == "" {
				password = os.Getenv("ACARTIA_PASSWORD")
			}
			msg, err := a.client.Login(cmd.Context(), email, password)
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return err
		}),
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (env ACARTIA_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLogoutCmd(withApp func(runFunc) func(*cobra.Command, []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the persisted session",
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			if _, err := a.client.Session.Restore(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.client.Logout(cmd.Context()))
			return nil
		}),
	}
}

func newRouteCmd(withApp func(runFunc) func(*cobra.Command, []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   "route NAME",
		Short: "Check whether the current session may open a dashboard page",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			route, ok := core.Routes[args[0]]
			if !ok {
				return fmt.Errorf("unknown route %q", args[0])
			}
			if _, err := a.client.Session.Restore(cmd.Context()); err != nil {
				return err
			}
			d := a.client.Session.Authorize(cmd.Context(), route)
			if d.Allow {
				fmt.Fprintf(cmd.OutOrStdout(), "allow %s\n", route.Path)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "redirect %s\n", d.RedirectTo)
			}
			return nil
		}),
	}
}

// --- Sightings ---

type sightingsOptions struct {
	species     string
	contributor string
	days        int
	verified    bool
	geojson     bool
}

// mutations turns the flags into map filter changes, applied in one commit
func (o sightingsOptions) mutations(now time.Time) []store.Mutation {
	var m []store.Mutation
	if o.species != "" {
		m = append(m, store.SetMapFilterSpecies{Species: o.species})
	}
	if o.contributor != "" {
		m = append(m, store.SetMapFilterContributor{Contributor: o.contributor})
	}
	if o.days > 0 {
		m = append(m,
			store.SetMapFilterDateBegin{Date: core.StartOfDay(now.AddDate(0, 0, -o.days))},
			store.SetMapFilterDateEnd{Date: core.EndOfDay(now)},
		)
	}
	if o.verified {
		m = append(m, store.SetMapFilterVerifiedOnly{VerifiedOnly: true})
	}
	return append(m, store.ApplyMapFilters{})
}

func newSightingsCmd(withApp func(runFunc) func(*cobra.Command, []string) error) *cobra.Command {
	var opts sightingsOptions
	cmd := &cobra.Command{
		Use:   "sightings",
		Short: "Fetch and filter the sightings dataset",
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			if err := a.client.Start(cmd.Context()); err != nil {
				return fmt.Errorf("%s: %w", core.UserMessage(err), err)
			}
			if err := a.client.Store.Commit(opts.mutations(time.Now())...); err != nil {
				return err
			}

			if opts.geojson {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(a.client.Store.MapData())
			}
			return printSightings(cmd.OutOrStdout(), a.client.Store.FilteredSightings(), a.client.Store.State().Sightings)
		}),
	}
	cmd.Flags().StringVar(&opts.species, "species", "", "only this species")
	cmd.Flags().StringVar(&opts.contributor, "contributor", "", "only this contributor")
	cmd.Flags().IntVar(&opts.days, "days", 0, "window ending today, in days (default 7)")
	cmd.Flags().BoolVar(&opts.verified, "verified", false, "only verified sightings")
	cmd.Flags().BoolVar(&opts.geojson, "geojson", false, "print the map feature collection")
	return cmd
}

func printSightings(w io.Writer, filtered, all []core.Sighting) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSPECIES\tCONTRIBUTOR\tLAT\tLON\tVERIFIED")
	for _, s := range filtered {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.5f\t%.5f\t%t\n",
			s.Timestamp.Format(time.DateTime), s.Species, s.Contributor,
			s.Location.Lat, s.Location.Lon, s.Verified)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d of %d sightings\n", len(filtered), len(all))
	return err
}

func newExportCmd(withApp func(runFunc) func(*cobra.Command, []string) error) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download the bulk export",
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			if _, err := a.client.Session.Restore(cmd.Context()); err != nil {
				return err
			}
			blob, err := a.client.Export(cmd.Context())
			if err != nil {
				return fmt.Errorf("%s: %w", core.UserMessage(err), err)
			}
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(blob)
				return err
			}
			if err := os.WriteFile(out, blob, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(blob), out)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file, - for stdout")
	return cmd
}

// --- Accounts ---

// credentials are the sign-in flags of the account commands. Account calls
// need the user details that only a login returns, and a restored token
// carries none, so these commands sign in within the same process.
type credentials struct {
	email    string
	password string
}

func (c *credentials) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&c.email, "email", os.Getenv("ACARTIA_EMAIL"), "account email (env ACARTIA_EMAIL)")
	cmd.PersistentFlags().StringVar(&c.password, "password", "", "account password (env ACARTIA_PASSWORD)")
}

func (c *credentials) signIn(ctx context.Context, a *app) error {
	if c.email == "" {
		return errors.New("account commands sign in first: pass --email or set ACARTIA_EMAIL")
	}
	password := c.password
	if password == "" {
		password = os.Getenv("ACARTIA_PASSWORD")
	}
	if _, err := a.client.Session.Login(ctx, c.email, password); err != nil {
		return fmt.Errorf("%s: %w", core.UserMessage(err), err)
	}
	return nil
}

func newUsersCmd(withApp func(runFunc) func(*cobra.Command, []string) error) *cobra.Command {
	var (
		creds    credentials
		requests bool
	)
	cmd := &cobra.Command{
		Use:   "users",
		Short: "List users, or pending account requests (admin only)",
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			ctx := cmd.Context()
			if err := creds.signIn(ctx, a); err != nil {
				return err
			}
			fetch := a.client.Accounts.FetchUserList
			if requests {
				fetch = a.client.Accounts.FetchUserRequestList
			}
			users, err := fetch(ctx)
			if err != nil {
				return fmt.Errorf("%s: %w", core.UserMessage(err), err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tROLE\tORGANIZATION")
			for _, u := range users {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", u.ID, u.Name, u.Email, u.Role, u.Organization)
			}
			return tw.Flush()
		}),
	}
	creds.register(cmd)
	cmd.Flags().BoolVar(&requests, "requests", false, "list pending account requests instead")
	return cmd
}

func newTokensCmd(withApp func(runFunc) func(*cobra.Command, []string) error) *cobra.Command {
	var creds credentials
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Manage API tokens of the signed-in user",
	}
	creds.register(cmd)
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List API tokens",
			RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
				if err := creds.signIn(cmd.Context(), a); err != nil {
					return err
				}
				tokens, err := a.client.Accounts.FetchUserTokens(cmd.Context())
				if err != nil {
					return fmt.Errorf("%s: %w", core.UserMessage(err), err)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tCREATED")
				for _, t := range tokens {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", t.ID, t.Name, t.CreatedAt.Format(time.DateOnly))
				}
				return tw.Flush()
			}),
		},
		&cobra.Command{
			Use:   "create NAME",
			Short: "Create an API token; the secret is printed once",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
				if err := creds.signIn(cmd.Context(), a); err != nil {
					return err
				}
				t, err := a.client.Accounts.CreateToken(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("%s: %w", core.UserMessage(err), err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", t.Name, t.Token)
				return nil
			}),
		},
	)
	return cmd
}

func newProfileCmd(withApp func(runFunc) func(*cobra.Command, []string) error) *cobra.Command {
	var (
		creds credentials
		set   []string
	)
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Update profile fields of the signed-in user",
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			form, err := parseForm(set)
			if err != nil {
				return err
			}
			if err := creds.signIn(cmd.Context(), a); err != nil {
				return err
			}
			p, err := a.client.Accounts.UpdateProfile(cmd.Context(), form)
			if err != nil {
				return fmt.Errorf("%s: %w", core.UserMessage(err), err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		}),
	}
	creds.register(cmd)
	cmd.Flags().StringArrayVar(&set, "set", nil, "field=value, repeatable")
	return cmd
}

// parseForm turns repeated key=value flags into a form
func parseForm(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, errors.New("nothing to update, pass --set field=value")
	}
	form := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --set %q, want field=value", pair)
		}
		form[strings.TrimSpace(k)] = v
	}
	return form, nil
}

// --- Replication ---

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a swarm key for a private peer network",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := crypto.GenerateSwarmKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

func newPeerCmd(withApp func(runFunc) func(*cobra.Command, []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   "peer",
		Short: "Run a replication peer until interrupted",
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			ctx := cmd.Context()
			p, err := a.openReplica(ctx, true)
			if err != nil {
				return err
			}
			defer p.Close(context.Background())

			a.logger.Info("peer running", "address", p.Address(), "peer_id", p.PeerID(), "documents", len(p.Documents()))
			if addr := a.cfg.Metrics.Listen; addr != "" {
				return serveStatus(ctx, addr, p, a.logger)
			}
			<-ctx.Done()
			return nil
		}),
	}
}

func newReplicaCmd(withApp func(runFunc) func(*cobra.Command, []string) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replica",
		Short: "Work with the replicated sightings collection",
	}

	var serve bool
	publish := &cobra.Command{
		Use:   "publish",
		Short: "Write the current API dataset into the replicated collection",
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			ctx := cmd.Context()
			if _, err := a.client.Session.Restore(ctx); err != nil {
				return err
			}
			records, err := a.client.Records(ctx)
			if err != nil {
				return fmt.Errorf("%s: %w", core.UserMessage(err), err)
			}
			docs := core.ToDocuments(records, a.logger)

			p, err := a.openReplica(ctx, serve)
			if err != nil {
				return err
			}
			defer p.Close(context.Background())

			entries, err := p.PutBatch(ctx, docs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %d of %d documents to %s\n", len(entries), len(docs), p.Address())

			if serve {
				<-ctx.Done()
			}
			return nil
		}),
	}
	publish.Flags().BoolVar(&serve, "serve", false, "keep serving the collection to peers")

	del := &cobra.Command{
		Use:   "delete KEY...",
		Short: "Remove documents from the replicated collection",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			ctx := cmd.Context()
			p, err := a.openReplica(ctx, false)
			if err != nil {
				return err
			}
			defer p.Close(context.Background())

			for _, key := range args {
				if _, err := p.Delete(ctx, key); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d documents\n", len(args))
			return nil
		}),
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the locally stored documents, without contacting peers",
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			docs, err := storedDocuments(cmd.Context(), a.storage, a.cfg.Replication.Collection)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tCLOCK\tWRITER\tBYTES")
			for _, d := range docs {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%d\n", d.Key, d.Clock.Time, d.Clock.ID, len(d.Value))
			}
			return tw.Flush()
		}),
	}

	cmd.AddCommand(publish, del, list)
	return cmd
}

// openReplica connects and loads a participant
func (a *app) openReplica(ctx context.Context, withNode bool) (*replication.Participant, error) {
	p, err := a.replica(withNode)
	if err != nil {
		return nil, err
	}
	if err := p.Connect(ctx); err != nil {
		_ = p.Close(context.Background())
		return nil, err
	}
	if err := p.Load(ctx); err != nil {
		_ = p.Close(context.Background())
		return nil, err
	}
	return p, nil
}

// storedDocuments rebuilds the collection from local storage only
func storedDocuments(ctx context.Context, s core.ReplicaStorage, collection string) ([]core.Document, error) {
	address, err := replication.NewAddress(collection)
	if err != nil {
		return nil, err
	}
	entries, err := s.LoadEntries(ctx, address.String())
	if err != nil {
		return nil, err
	}
	log := replication.NewLog(address.String(), "")
	if _, err := log.Join(entries); err != nil {
		return nil, err
	}
	return log.Documents(), nil
}
