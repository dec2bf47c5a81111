// sowprice - statement of work pricing engine
//
// Usage:
//
//	sowprice normalize --input payload.json [--rate-card card.yaml] [--inject-mandatory]
//	sowprice fit --input table.json --target 9000
//	sowprice sow --input scopes.json --discount 7.5
//	sowprice ratecard import --file card.yaml --workspace acme
//	sowprice serve --port 8080
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"sow-pricing/api"
	"sow-pricing/db/clickhouse"
	"sow-pricing/db/postgres"
	"sow-pricing/decision/pricing"
	"sow-pricing/decision/render"
	"sow-pricing/decision/review"
	"sow-pricing/decision/sow"
	"sow-pricing/internal/ratecards"
	"sow-pricing/pkg/platform"
)

const defaultFetchTimeout = 10 * time.Second

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "sowprice",
		Usage:   "Normalize, budget-fit and render SOW pricing tables",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"SOWPRICE_LOG_LEVEL"},
			},
			&cli.BoolFlag{
				Name:    "log-pretty",
				Usage:   "Human-readable console logs",
				EnvVars: []string{"SOWPRICE_LOG_PRETTY"},
			},
			&cli.StringFlag{
				Name:    "rate-card",
				Usage:   "Rate card file (YAML or JSON) or directory of <workspace>.yaml files",
				EnvVars: []string{"SOWPRICE_RATE_CARD"},
			},
			&cli.StringFlag{
				Name:    "rate-card-url",
				Usage:   "Rate card service URL, {workspace} is substituted",
				EnvVars: []string{"SOWPRICE_RATE_CARD_URL"},
			},
			&cli.StringFlag{
				Name:    "workspace",
				Aliases: []string{"w"},
				Usage:   "Workspace whose rate card is used",
				EnvVars: []string{"SOWPRICE_WORKSPACE"},
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "PostgreSQL DSN for workspace rate cards",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-host",
				Usage:   "ClickHouse host for quote audit (disabled when empty)",
				EnvVars: []string{"CLICKHOUSE_HOST"},
			},
			&cli.IntFlag{
				Name:    "clickhouse-port",
				Value:   9000,
				Usage:   "ClickHouse native port",
				EnvVars: []string{"CLICKHOUSE_PORT"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-database",
				Value:   "sowpricing",
				Usage:   "ClickHouse database",
				EnvVars: []string{"CLICKHOUSE_DATABASE"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-user",
				Value:   "default",
				Usage:   "ClickHouse user",
				EnvVars: []string{"CLICKHOUSE_USER"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-password",
				Value:   "",
				Usage:   "ClickHouse password",
				EnvVars: []string{"CLICKHOUSE_PASSWORD"},
			},
		},

		Before: func(c *cli.Context) error {
			platform.InitLogger(c.String("log-level"), c.Bool("log-pretty"))
			return nil
		},

		Commands: []*cli.Command{
			normalizeCommand(),
			fitCommand(),
			sowCommand(),
			reviewCommand(),
			rateCardCommand(),
			serveCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		platform.LogFatal(log.Logger, "sowprice failed", err)
	}
}

// =============================================================================
// NORMALIZE COMMAND
// =============================================================================

func normalizeCommand() *cli.Command {
	return &cli.Command{
		Name:  "normalize",
		Usage: "Reconcile a model-produced pricing table with the rate card",
		Flags: []cli.Flag{
			inputFlag(),
			formatFlag(),
			&cli.BoolFlag{
				Name:  "inject-mandatory",
				Usage: "Add missing mandatory roles",
			},
			&cli.StringFlag{
				Name:  "currency",
				Usage: "Currency forced onto the table (default AUD)",
			},
		},
		Action: runNormalize,
	}
}

func runNormalize(c *cli.Context) error {
	data, err := readInput(c.String("input"))
	if err != nil {
		return err
	}
	payload, err := pricing.DecodePayload(data)
	if err != nil {
		return fmt.Errorf("failed to parse pricing payload: %w", err)
	}

	card, err := loadRateCard(c)
	if err != nil {
		return err
	}

	res := pricing.Normalize(payload, pricing.Options{
		RateCard:             card.Entries,
		Currency:             firstNonEmpty(c.String("currency"), card.Currency),
		InjectMandatoryRoles: c.Bool("inject-mandatory"),
		MandatoryRoleNames:   card.MandatoryRoles,
	})
	sow.LogWarnings(log.Logger, res.Warnings)

	return outputTable(c.String("format"), res.Table, res.Warnings, nil)
}

// =============================================================================
// FIT COMMAND
// =============================================================================

func fitCommand() *cli.Command {
	return &cli.Command{
		Name:  "fit",
		Usage: "Adjust line-item hours so the discounted subtotal meets a budget",
		Flags: []cli.Flag{
			inputFlag(),
			formatFlag(),
			&cli.Float64Flag{
				Name:     "target",
				Usage:    "Target after discount, ex GST",
				Required: true,
			},
			&cli.Float64Flag{
				Name:  "increment",
				Value: pricing.DefaultHourIncrement,
				Usage: "Hour increment",
			},
			&cli.IntFlag{
				Name:  "max-iterations",
				Value: pricing.DefaultMaxIterations,
				Usage: "Maximum refinement steps",
			},
		},
		Action: runFit,
	}
}

func runFit(c *cli.Context) error {
	data, err := readInput(c.String("input"))
	if err != nil {
		return err
	}
	var table pricing.Table
	if err := json.Unmarshal(data, &table); err != nil {
		return fmt.Errorf("failed to parse pricing table: %w", err)
	}

	target := c.Float64("target")
	res := pricing.FitToTarget(table, pricing.FitOptions{
		TargetAfterDiscountExGst: target,
		HourIncrement:            c.Float64("increment"),
		MaxIterations:            c.Int("max-iterations"),
	})
	sow.LogWarnings(log.Logger, res.Warnings)
	log.Info().
		Float64("target_subtotal_ex_gst", res.TargetSubtotalExGst).
		Int("iterations", res.Iterations).
		Bool("converged", res.Converged).
		Msg("Budget fit finished")

	return outputTable(c.String("format"), res.Table, res.Warnings, &target)
}

// =============================================================================
// SOW COMMAND
// =============================================================================

func sowCommand() *cli.Command {
	return &cli.Command{
		Name:  "sow",
		Usage: "Price and render every scope of a statement of work",
		Flags: []cli.Flag{
			inputFlag(),
			&cli.Float64Flag{
				Name:  "discount",
				Usage: "Discount percent applied to every scope",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the full document as JSON instead of markdown",
			},
		},
		Action: runSOW,
	}
}

func runSOW(c *cli.Context) error {
	ctx := c.Context

	data, err := readInput(c.String("input"))
	if err != nil {
		return err
	}
	var input struct {
		Scopes          []sow.Scope `json:"scopes"`
		DiscountPercent *float64    `json:"discount_percent"`
	}
	if err := json.Unmarshal(data, &input); err != nil {
		return fmt.Errorf("failed to parse scopes: %w", err)
	}
	if c.IsSet("discount") {
		d := c.Float64("discount")
		input.DiscountPercent = &d
	}

	card, err := loadRateCard(c)
	if err != nil {
		return err
	}

	builder := sow.NewBuilder(sow.WithLogger(log.Logger))
	doc, err := builder.Build(ctx, sow.Request{
		Scopes:          input.Scopes,
		DiscountPercent: input.DiscountPercent,
		RateCard:        card.Entries,
		Normalize: pricing.Options{
			Currency:           card.Currency,
			MandatoryRoleNames: card.MandatoryRoles,
		},
	})
	if err != nil {
		return err
	}

	if c.Bool("json") {
		return writeJSON(os.Stdout, doc)
	}
	fmt.Print(doc.Markdown)
	return nil
}

// =============================================================================
// REVIEW COMMAND
// =============================================================================

func reviewCommand() *cli.Command {
	return &cli.Command{
		Name:  "review",
		Usage: "Check a priced table against commercial guardrails",
		Flags: []cli.Flag{
			inputFlag(),
			&cli.Float64Flag{
				Name:  "max-total",
				Usage: "Maximum total inc GST",
			},
			&cli.Float64Flag{
				Name:  "max-discount",
				Value: 30,
				Usage: "Maximum discount percent",
			},
		},
		Action: runReview,
	}
}

func runReview(c *cli.Context) error {
	data, err := readInput(c.String("input"))
	if err != nil {
		return err
	}
	var input struct {
		PricingTable pricing.Table     `json:"pricing_table"`
		Warnings     []pricing.Warning `json:"warnings"`
	}
	if err := json.Unmarshal(data, &input); err != nil {
		return fmt.Errorf("failed to parse review input: %w", err)
	}

	engine := review.NewEngine()
	if limit := c.Float64("max-total"); limit > 0 {
		engine.AddPolicy(review.Policy{
			ID:        "cli-max-total",
			Name:      "Total Limit",
			Type:      review.PolicyTypeMaxTotalIncGst,
			Severity:  review.SeverityError,
			Threshold: limit,
			Enabled:   true,
		})
	}
	if c.IsSet("max-discount") {
		engine.AddPolicy(review.Policy{
			ID:        "cli-max-discount",
			Name:      "Discount Limit",
			Type:      review.PolicyTypeMaxDiscountPercent,
			Severity:  review.SeverityError,
			Threshold: c.Float64("max-discount"),
			Enabled:   true,
		})
	}

	result, err := engine.Evaluate(c.Context, review.Request{Table: input.PricingTable, Warnings: input.Warnings})
	if err != nil {
		return fmt.Errorf("review failed: %w", err)
	}
	if err := writeJSON(os.Stdout, result); err != nil {
		return err
	}
	if result.Decision == review.DecisionDeny {
		return cli.Exit("quote denied", 2)
	}
	return nil
}

// =============================================================================
// RATE CARD COMMAND
// =============================================================================

func rateCardCommand() *cli.Command {
	return &cli.Command{
		Name:  "ratecard",
		Usage: "Inspect and manage rate cards",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the rate card resolved for a workspace",
				Action: func(c *cli.Context) error {
					card, err := loadRateCard(c)
					if err != nil {
						return err
					}
					fmt.Println("| Role | Hourly rate |")
					fmt.Println("|------|-------------|")
					for _, e := range card.Entries {
						fmt.Printf("| %s | $%.2f |\n", e.Role, e.HourlyRate)
					}
					return nil
				},
			},
			{
				Name:  "import",
				Usage: "Load a rate card file into PostgreSQL",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Usage:    "Rate card file (YAML or JSON)",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "migrate",
						Usage: "Create the rate card table first",
					},
				},
				Action: runRateCardImport,
			},
		},
	}
}

func runRateCardImport(c *cli.Context) error {
	ctx := c.Context
	dsn := c.String("database-url")
	if dsn == "" {
		return fmt.Errorf("--database-url is required for import")
	}
	workspace := c.String("workspace")
	if workspace == "" {
		return fmt.Errorf("--workspace is required for import")
	}

	card, err := ratecards.LoadCardFile(c.String("file"))
	if err != nil {
		return err
	}

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	if c.Bool("migrate") {
		if err := store.Migrate(ctx); err != nil {
			return err
		}
	}
	if err := store.UpsertEntries(ctx, workspace, card.Entries); err != nil {
		return err
	}
	log.Info().Str("workspace", workspace).Int("entries", len(card.Entries)).Msg("Rate card imported")
	return nil
}

// =============================================================================
// SERVE COMMAND (API SERVER)
// =============================================================================

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the pricing API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Value:   8080,
				Usage:   "API server port",
				EnvVars: []string{"SOWPRICE_PORT"},
			},
			&cli.StringFlag{
				Name:    "cors-origins",
				Value:   "*",
				Usage:   "Comma-separated list of allowed CORS origins",
				EnvVars: []string{"SOWPRICE_CORS_ORIGINS"},
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "Require this X-API-Key on /api/v1",
				EnvVars: []string{"SOWPRICE_API_KEY"},
			},
			&cli.BoolFlag{
				Name:  "migrate",
				Usage: "Create store tables on startup",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	ctx := c.Context
	logger := log.Logger

	cfg := api.DefaultConfig()
	cfg.Port = c.Int("port")
	cfg.CORSOrigins = platform.SplitList(c.String("cors-origins"))
	cfg.APIKey = c.String("api-key")
	cfg.MaxRequestSize = int64(platform.GetEnvInt("SOWPRICE_MAX_REQUEST_BYTES", int(cfg.MaxRequestSize)))

	opts := []api.Option{api.WithLogger(logger)}
	sources := []ratecards.Source{}

	if dsn := c.String("database-url"); dsn != "" {
		pg, err := postgres.Open(ctx, dsn)
		if err != nil {
			return err
		}
		defer pg.Close()
		if c.Bool("migrate") {
			if err := pg.Migrate(ctx); err != nil {
				return err
			}
		}
		sources = append(sources, pg)
		opts = append(opts, api.WithRateCardWriter(pg), api.WithPinger("postgres", pg))
	}

	if host := c.String("clickhouse-host"); host != "" {
		ch, err := clickhouse.NewStore(&clickhouse.Config{
			Host:     host,
			Port:     c.Int("clickhouse-port"),
			Database: c.String("clickhouse-database"),
			Username: c.String("clickhouse-user"),
			Password: c.String("clickhouse-password"),
		})
		if err != nil {
			return fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		defer ch.Close()
		if c.Bool("migrate") {
			if err := ch.Migrate(ctx); err != nil {
				return err
			}
		}
		opts = append(opts, api.WithAudit(ch), api.WithPinger("clickhouse", ch))
	}

	sources = append(sources, configuredSources(c)...)
	sources = append(sources, ratecards.NewDefaultSource())
	opts = append(opts, api.WithRateCards(ratecards.NewChain(logger, sources...)))

	server := api.NewServer(cfg, opts...)
	return server.StartWithGracefulShutdown()
}

// =============================================================================
// HELPERS
// =============================================================================

func inputFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "input",
		Aliases: []string{"i"},
		Value:   "-",
		Usage:   "Input JSON file, - for stdin",
	}
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Value:   "json",
		Usage:   "Output format (json, markdown)",
	}
}

func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// configuredSources returns the file and HTTP sources set by flags.
func configuredSources(c *cli.Context) []ratecards.Source {
	var out []ratecards.Source
	if path := c.String("rate-card"); path != "" {
		out = append(out, ratecards.NewFileSource(path))
	}
	if u := c.String("rate-card-url"); u != "" {
		client := platform.NewHTTPClient(
			platform.GetEnvInt("SOWPRICE_RATE_CARD_RETRIES", 2),
			platform.GetEnvDuration("SOWPRICE_RATE_CARD_TIMEOUT", defaultFetchTimeout),
		)
		out = append(out, ratecards.NewHTTPSource(u, client, nil))
	}
	return out
}

// loadRateCard resolves the card for one-shot commands: a single rate card
// file keeps its currency and mandatory roles, otherwise the configured
// sources are chained ahead of PostgreSQL and the default card.
func loadRateCard(c *cli.Context) (*ratecards.Card, error) {
	ctx := c.Context
	if path := c.String("rate-card"); path != "" {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return ratecards.LoadCardFile(path)
		}
	}

	sources := configuredSources(c)
	if dsn := c.String("database-url"); dsn != "" {
		pg, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		defer pg.Close()
		sources = append(sources, pg)
	}
	sources = append(sources, ratecards.NewDefaultSource())

	entries, err := ratecards.NewChain(log.Logger, sources...).Load(ctx, c.String("workspace"))
	if err != nil {
		return nil, err
	}
	return &ratecards.Card{Entries: entries}, nil
}

func outputTable(format string, t pricing.Table, warnings []pricing.Warning, target *float64) error {
	if format == "markdown" {
		fmt.Print(render.Table(t, target))
		return nil
	}
	if warnings == nil {
		warnings = []pricing.Warning{}
	}
	return writeJSON(os.Stdout, map[string]any{
		"pricing_table": t,
		"summary":       pricing.ComputeSummary(t),
		"warnings":      warnings,
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
