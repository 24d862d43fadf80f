package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/edc/edc/internal/config"
	"github.com/edc/edc/internal/domain/crf"
	"github.com/edc/edc/internal/domain/engine"
	"github.com/edc/edc/internal/domain/metadata"
	"github.com/edc/edc/internal/domain/rules"
	"github.com/edc/edc/internal/domain/schedule"
	"github.com/edc/edc/internal/domain/sources"
	"github.com/edc/edc/internal/domain/visit"
	"github.com/edc/edc/internal/platform/auth"
	"github.com/edc/edc/internal/platform/db"
	"github.com/edc/edc/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "edc-server",
		Short: "Clinical study metadata API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(scheduleCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the metadata API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect the configured visit schedules",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List schedules, visits and their forms",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := schedule.NewRegistry()
			if err := registerSchedules(reg); err != nil {
				return err
			}
			for _, s := range reg.Schedules() {
				fmt.Printf("%s (visit schedule %s)\n", s.Name, s.VisitScheduleName)
				for _, v := range s.Visits {
					fmt.Printf("  %s  %s\n", v.Code, v.Title)
					for _, d := range v.Crfs {
						req := "optional"
						if d.Required {
							req = "required"
						}
						fmt.Printf("    crf  %-30s %s\n", d.Form, req)
					}
					for _, d := range v.Requisitions {
						req := "optional"
						if d.Required {
							req = "required"
						}
						fmt.Printf("    req  %-30s %s (%s)\n", d.Form, d.PanelName, req)
					}
				}
			}
			return nil
		},
	})

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.IsDev() {
		logger.Warn().Msg("server is running in DEVELOPMENT mode; all requests get admin access")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Get-or-create relies on these constraints; refuse to start without them.
	for _, c := range []struct{ table, constraint string }{
		{"crf_metadata", "crf_metadata_natural_key"},
		{"requisition_metadata", "requisition_metadata_natural_key"},
		{"form_submission", "form_submission_natural_key"},
		{"subject_visit", "subject_visit_natural_key"},
	} {
		if err := db.VerifyUniqueConstraint(ctx, pool, c.table, c.constraint); err != nil {
			logger.Fatal().Err(err).Msg("schema verification failed; run `edc-server migrate up`")
		}
	}

	// Study configuration
	scheduleReg := schedule.NewRegistry()
	if err := registerSchedules(scheduleReg); err != nil {
		logger.Fatal().Err(err).Msg("invalid schedule configuration")
	}
	ruleReg := rules.NewRegistry()
	if err := registerRules(ruleReg); err != nil {
		logger.Fatal().Err(err).Msg("invalid rule configuration")
	}

	// Repositories
	crfMetaRepo := metadata.NewCrfRepoPG(pool)
	reqMetaRepo := metadata.NewRequisitionRepoPG(pool)
	visitRepo := visit.NewRepoPG(pool)
	submissionRepo := crf.NewRepoPG(pool)

	// Source bindings: every scheduled form resolves to the submission store.
	resolver := sources.NewResolver()
	if err := bindSources(resolver, scheduleReg, submissionRepo); err != nil {
		logger.Fatal().Err(err).Msg("invalid source bindings")
	}

	// Services
	engineSvc := engine.NewService(pool, scheduleReg, crfMetaRepo, reqMetaRepo, resolver, ruleReg, logger)
	visitSvc := visit.NewService(visitRepo, scheduleReg, engineSvc, pool, logger)
	submissionSvc := crf.NewService(submissionRepo, visitRepo, scheduleReg, engineSvc, pool, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}))
	}

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// API group
	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	visit.NewHandler(visitSvc).RegisterRoutes(apiV1)
	crf.NewHandler(submissionSvc).RegisterRoutes(apiV1)
	engine.NewHandler(engineSvc).RegisterRoutes(apiV1)

	// Start server
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
		return err
	}
	return nil
}

// Demo study protocol. A deployment replaces these declarations with its
// own; nothing else in the server knows form names.
var (
	formScreening     = schedule.FormRef{Namespace: "demo", Name: "screening"}
	formVitals        = schedule.FormRef{Namespace: "demo", Name: "vitals"}
	formPregnancyTest = schedule.FormRef{Namespace: "demo", Name: "pregnancytest"}
	formAdverseEvent  = schedule.FormRef{Namespace: "demo", Name: "adverseevent"}
	formMissedVisit   = schedule.FormRef{Namespace: "demo", Name: "missedvisit"}
	formBloodPanel    = schedule.FormRef{Namespace: "demo", Name: "bloodpanel"}
)

func registerSchedules(reg *schedule.Registry) error {
	return reg.Register(&schedule.Schedule{
		Name:              "demo_schedule",
		VisitScheduleName: "demo_visit_schedule",
		Visits: []schedule.VisitDef{
			{
				Code:  "1000",
				Title: "Day 1",
				Crfs: []schedule.CrfDef{
					{Form: formScreening, Required: true, ShowOrder: 10},
					{Form: formVitals, Required: true, ShowOrder: 20},
					{Form: formPregnancyTest, Required: false, ShowOrder: 30},
				},
				Requisitions: []schedule.RequisitionDef{
					{Form: formBloodPanel, PanelName: "cbc", Required: true, ShowOrder: 10},
					{Form: formBloodPanel, PanelName: "chemistry", Required: false, ShowOrder: 20},
				},
				MissedCrfs: []schedule.CrfDef{
					{Form: formMissedVisit, Required: true, ShowOrder: 10},
				},
				UnscheduledCrfs: []schedule.CrfDef{
					{Form: formVitals, Required: true, ShowOrder: 10},
					{Form: formAdverseEvent, Required: false, ShowOrder: 20},
				},
			},
			{
				Code:  "2000",
				Title: "Week 2",
				Crfs: []schedule.CrfDef{
					{Form: formVitals, Required: true, ShowOrder: 10},
					{Form: formAdverseEvent, Required: false, ShowOrder: 20},
				},
				Requisitions: []schedule.RequisitionDef{
					{Form: formBloodPanel, PanelName: "cbc", Required: false, ShowOrder: 10},
				},
				MissedCrfs: []schedule.CrfDef{
					{Form: formMissedVisit, Required: true, ShowOrder: 10},
				},
				UnscheduledCrfs: []schedule.CrfDef{
					{Form: formVitals, Required: true, ShowOrder: 10},
					{Form: formAdverseEvent, Required: false, ShowOrder: 20},
				},
			},
		},
	})
}

func registerRules(reg *rules.Registry) error {
	return reg.Register(&rules.RuleGroup{
		Name: "demo.visit_rules",
		App:  "demo_visit_schedule",
		Rules: []*rules.Rule{
			{
				Name:    "pregnancy_test_when_childbearing",
				Source:  formScreening,
				Targets: []rules.TargetRef{{Form: formPregnancyTest}},
				Logic: rules.Logic{
					Predicate:   rules.FieldEquals("childbearing_potential", "YES"),
					Consequence: rules.VerdictRequired,
					Alternative: rules.VerdictNotRequired,
				},
			},
			{
				Name:    "chemistry_panel_when_fasting",
				Source:  formVitals,
				Targets: []rules.TargetRef{{Form: formBloodPanel, PanelName: "chemistry"}},
				Logic: rules.Logic{
					Predicate:   rules.FieldEquals("fasting", true),
					Consequence: rules.VerdictRequired,
					Alternative: rules.VerdictNotRequired,
				},
			},
		},
	})
}

// bindSources points every form that appears in any schedule at the
// submission store. Forms are collected across all declared sets so the
// engine can resolve missed and unscheduled variants too.
func bindSources(resolver *sources.Resolver, reg *schedule.Registry, repo crf.SubmissionRepository) error {
	seen := make(map[schedule.FormRef]bool)
	bind := func(form schedule.FormRef) error {
		if seen[form] {
			return nil
		}
		seen[form] = true
		return resolver.Bind(form, crf.NewAccessor(repo, form))
	}

	for _, s := range reg.Schedules() {
		for _, v := range s.Visits {
			for _, d := range v.Crfs {
				if err := bind(d.Form); err != nil {
					return err
				}
			}
			for _, d := range v.MissedCrfs {
				if err := bind(d.Form); err != nil {
					return err
				}
			}
			for _, d := range v.UnscheduledCrfs {
				if err := bind(d.Form); err != nil {
					return err
				}
			}
			for _, d := range v.Requisitions {
				if err := bind(d.Form); err != nil {
					return err
				}
			}
			for _, d := range v.UnscheduledRequisitions {
				if err := bind(d.Form); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
