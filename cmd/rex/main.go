package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"realmexchange/internal/app"
	"realmexchange/internal/config"
	"realmexchange/internal/db"
	"realmexchange/internal/domain"
	"realmexchange/internal/engine"
	"realmexchange/internal/migrate"
	"realmexchange/internal/repo"
	"realmexchange/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "rex",
	Short: "Realmexchange CLI",
	Long: `Realmexchange is a player-to-player marketplace for trading whole game
accounts against item prices.
- Workspace: your .realmexchange directory with the database; marketplace
  config lives in the DB and can be imported from realmexchange.yml.
- Account: a registered game account with a verified inventory snapshot.
  Verification freezes identity and items; only ownership changes after that.
- Listing: a seller's offer of one or more accounts for an asking price
  (item type -> quantity). Active until settled or cancelled.
- Offer: a buyer's counter-proposal naming specific payment accounts.
- Settlement: accepting a listing or an offer swaps account ownership both
  ways in one atomic step.
- Event log: diary of changes, view with 'rex log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("REALMEXCHANGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "acting user identifier")
	rootCmd.PersistentFlags().String("marketplace", "", "marketplace id (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
	_ = viper.BindPFlag("marketplace", rootCmd.PersistentFlags().Lookup("marketplace"))
}

func registerCommands() {
	rootCmd.AddCommand(accountCmd())
	rootCmd.AddCommand(listingCmd())
	rootCmd.AddCommand(offerCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func accountCmd() *cobra.Command {
	acc := &cobra.Command{
		Use:   "account",
		Short: "Manage game accounts",
		Long:  "Register accounts into the directory, verify their inventories, and fetch play credentials for accounts that are not locked by a live trade.",
	}
	acc.AddCommand(accountRegisterCmd())
	acc.AddCommand(accountVerifyCmd())
	acc.AddCommand(accountListCmd())
	acc.AddCommand(accountShowCmd())
	acc.AddCommand(accountSessionCmd())
	return acc
}

func accountRegisterCmd() *cobra.Command {
	var id, name, credential string
	var seasonal bool
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.RegisterAccount(ctx, engine.AccountRegisterOptions{
					ID:         id,
					OwnerID:    viper.GetString("user-id"),
					Name:       name,
					Credential: credential,
					Seasonal:   seasonal,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "account id (generated if empty)")
	cmd.Flags().StringVar(&name, "name", "", "account name")
	cmd.Flags().StringVar(&credential, "credential", "", "play credential")
	cmd.Flags().BoolVar(&seasonal, "seasonal", false, "seasonal account")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func accountVerifyCmd() *cobra.Command {
	var items []string
	var seasonal bool
	cmd := &cobra.Command{
		Use:   "verify <account-id>",
		Short: "Verify an account and attach its inventory snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.VerifyAccount(ctx, args[0], items, seasonal, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringArrayVar(&items, "item", []string{}, "inventory item (repeatable)")
	cmd.Flags().BoolVar(&seasonal, "seasonal", false, "seasonal account")
	return cmd
}

func accountListCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts by owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if owner == "" {
					owner = viper.GetString("user-id")
				}
				accounts, err := e.Repo.ListAccountsByOwner(ctx, owner)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(accounts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Items", "Verified", "Seasonal", "Locked"})
				for _, a := range accounts {
					locked, err := e.HasConflict(ctx, []string{a.ID})
					if err != nil {
						return err
					}
					tw.AppendRow(table.Row{a.ID, a.Name, len(a.Items), a.Verified, a.Seasonal, locked})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id (defaults to acting user)")
	return cmd
}

func accountShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <account-id-or-name>",
		Short: "Show an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Repo.GetAccount(ctx, args[0])
				if errors.Is(err, repo.ErrNotFound) {
					a, err = e.Repo.GetAccountByName(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func accountSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session <account-id>",
		Short: "Fetch the play credential",
		Long:  "Refused while the account is committed to an active listing or a pending offer on one.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cred, err := e.AccountSession(ctx, args[0], viper.GetString("user-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"account_id": args[0], "credential": cred})
				}
				fmt.Println(cred)
				return nil
			})
		},
	}
	return cmd
}

func listingCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "listing",
		Short: "Manage listings",
		Long:  "Create listings of one or more accounts against an item price, browse the board, cancel, or accept to settle.",
	}
	l.AddCommand(listingCreateCmd())
	l.AddCommand(listingListCmd())
	l.AddCommand(listingShowCmd())
	l.AddCommand(listingCancelCmd())
	l.AddCommand(listingAcceptCmd())
	return l
}

func parsePriceFlags(lines []string) ([]domain.RequiredItem, error) {
	var price []domain.RequiredItem
	for _, raw := range lines {
		item, qtyStr, found := strings.Cut(raw, "=")
		if !found {
			return nil, fmt.Errorf("invalid price line %q, expected item=quantity", raw)
		}
		var qty int
		if _, err := fmt.Sscanf(qtyStr, "%d", &qty); err != nil {
			return nil, fmt.Errorf("invalid quantity in %q", raw)
		}
		price = append(price, domain.RequiredItem{Item: strings.TrimSpace(item), Quantity: qty})
	}
	return price, nil
}

func listingCreateCmd() *cobra.Command {
	var id string
	var accounts, priceLines []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a listing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(accounts) == 0 {
				return fmt.Errorf("--account required")
			}
			price, err := parsePriceFlags(priceLines)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.CreateListing(ctx, engine.ListingCreateOptions{
					ID:         id,
					SellerID:   viper.GetString("user-id"),
					AccountIDs: accounts,
					Price:      price,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "listing id (generated if empty)")
	cmd.Flags().StringArrayVar(&accounts, "account", []string{}, "account id to sell (repeatable)")
	cmd.Flags().StringArrayVar(&priceLines, "price", []string{}, "price line item=quantity (repeatable)")
	return cmd
}

func listingListCmd() *cobra.Command {
	var status, seller string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Browse listings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var items []domain.Listing
				var err error
				if seller != "" {
					items, err = e.Repo.ListListingsBySeller(ctx, seller)
				} else {
					items, err = e.Repo.ListListingsByStatus(ctx, status)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Seller", "Accounts", "Price", "Status"})
				for _, l := range items {
					tw.AppendRow(table.Row{l.ID, l.SellerID, strings.Join(l.AccountIDs, ","), formatPrice(l.Price), l.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", domain.ListingActive, "status filter")
	cmd.Flags().StringVar(&seller, "seller", "", "seller filter")
	return cmd
}

func formatPrice(price []domain.RequiredItem) string {
	parts := make([]string, 0, len(price))
	for _, line := range price {
		parts = append(parts, fmt.Sprintf("%s=%d", line.Item, line.Quantity))
	}
	return strings.Join(parts, " ")
}

func listingShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <listing-id>",
		Short: "Show a listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.Repo.GetListing(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	return cmd
}

func listingCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <listing-id>",
		Short: "Cancel a listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.CancelListing(ctx, args[0], viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	return cmd
}

func listingAcceptCmd() *cobra.Command {
	var payment []string
	cmd := &cobra.Command{
		Use:   "accept <listing-id>",
		Short: "Accept a listing and settle the trade",
		Long:  "Without --pay-with the allocator picks payment accounts from your holdings, scanning ascending ids and skipping accounts that contribute nothing.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var explicit []string
				if cmd.Flags().Changed("pay-with") {
					explicit = payment
					if explicit == nil {
						explicit = []string{}
					}
				}
				res, err := e.AcceptListing(ctx, args[0], viper.GetString("user-id"), explicit)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringArrayVar(&payment, "pay-with", []string{}, "payment account id (repeatable; skips the allocator)")
	return cmd
}

func offerCmd() *cobra.Command {
	o := &cobra.Command{
		Use:   "offer",
		Short: "Manage offers",
		Long:  "Offers are counter-proposals naming specific payment accounts against a listing. Sellers accept or reject; accepting settles the trade.",
	}
	o.AddCommand(offerMakeCmd())
	o.AddCommand(offerListCmd())
	o.AddCommand(offerAcceptCmd())
	o.AddCommand(offerRejectCmd())
	return o
}

func offerMakeCmd() *cobra.Command {
	var listingID string
	var accounts []string
	cmd := &cobra.Command{
		Use:   "make",
		Short: "Make an offer on a listing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listingID == "" {
				return fmt.Errorf("--listing required")
			}
			if len(accounts) == 0 {
				return fmt.Errorf("--account required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.MakeOffer(ctx, listingID, viper.GetString("user-id"), accounts)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&listingID, "listing", "", "listing id")
	cmd.Flags().StringArrayVar(&accounts, "account", []string{}, "payment account id (repeatable)")
	_ = cmd.MarkFlagRequired("listing")
	return cmd
}

func offerListCmd() *cobra.Command {
	var listingID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List offers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var items []domain.Offer
				var err error
				if listingID != "" {
					items, err = e.Repo.ListOffersByListing(ctx, listingID)
				} else {
					items, err = e.Repo.ListOffersByBuyer(ctx, viper.GetString("user-id"))
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Listing", "Buyer", "Accounts", "Status"})
				for _, o := range items {
					tw.AppendRow(table.Row{o.ID, o.ListingID, o.BuyerID, strings.Join(o.AccountIDs, ","), o.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&listingID, "listing", "", "listing id (defaults to own offers)")
	return cmd
}

func offerAcceptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accept <offer-id>",
		Short: "Accept an offer and settle the trade",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.AcceptOffer(ctx, args[0], viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func offerRejectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject <offer-id>",
		Short: "Reject an offer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.RejectOffer(ctx, args[0], viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect marketplace config",
		Long:  "Config is the rulebook (stored in DB): marketplace id/kind, the item catalog, listing limits, and trading rules. Import from realmexchange.yml if desired.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import config YAML into the DB",
		Long:  "Without --file, imports the workspace's realmexchange.yml.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.Config
			var err error
			if file == "" {
				cfg, err = config.Load(viper.GetString("workspace"))
			} else {
				cfg, err = config.FromFile(file)
			}
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertMarketplaceConfig(ctx, cfg.Marketplace.ID, cfg); err != nil {
					return err
				}
				fmt.Printf("imported config for marketplace %s\n", cfg.Marketplace.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config YAML path (defaults to workspace realmexchange.yml)")
	return cmd
}

func configInitCmd() *cobra.Command {
	var marketplaceID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default realmexchange.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if marketplaceID == "" {
				return fmt.Errorf("--marketplace-id required")
			}
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(marketplaceID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&marketplaceID, "marketplace-id", "", "marketplace id")
	_ = cmd.MarkFlagRequired("marketplace-id")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show marketplace status",
		Long:  "See the scoreboard: listing counts by status for the active marketplace.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.Repo.CountListingsByStatus(ctx)
				if err != nil {
					return err
				}
				out := map[string]any{
					"marketplace_id": e.Config.Marketplace.ID,
					"listing_counts": counts,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Marketplace: %s\n", e.Config.Marketplace.ID)
				fmt.Println("Listings:")
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: registrations, listings, offers, and settlements.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Marketplace.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveMarketplace(cmd.Context(), workspace, viper.GetString("marketplace"), viper.GetString("user-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:             os.Getenv("REALMEXCHANGE_JWT_SECRET"),
				AllowLegacyUserHeader: allowLegacyHeader,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("REALMEXCHANGE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Realmexchange API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacyHeader, "allow-legacy-user-header", false, "accept X-User-Id without auth (dev only)")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveMarketplace(ctx, workspace, viper.GetString("marketplace"), viper.GetString("user-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
