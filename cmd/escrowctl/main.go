// Command escrowctl runs maintenance tasks against the escrow database:
// schema migration, a one-off auto-release sweep, demo data and local
// access tokens.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"escrow/internal/config"
	"escrow/internal/logging"
	"escrow/internal/models"
	"escrow/internal/repositories"
	"escrow/internal/services/escrow"
	"escrow/internal/services/sweep"
	"escrow/internal/utils"

	cli "github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	app := cli.NewApp()

	app.Name = "escrowctl"
	app.Usage = "escrow maintenance commands"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "database",
			Usage:   "database as DBTYPE=PARAMS, e.g. sqlite=escrow.db",
			EnvVars: []string{"ESCROW_DATABASE"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			EnvVars: []string{"LOG_LEVEL"},
		},
	}
	app.Commands = []*cli.Command{
		migrateCmd,
		sweepCmd,
		seedCmd,
		tokenCmd,
	}
	app.Before = func(cctx *cli.Context) error {
		config.LoadEnv()
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the config, applies global flag overrides and opens the
// database.
func setup(cctx *cli.Context) (config.Config, *gorm.DB, *zap.SugaredLogger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	if cctx.IsSet("database") {
		cfg.Database.URL = cctx.String("database")
	}

	logr, err := logging.New(cctx.String("log-level"), false)
	if err != nil {
		return config.Config{}, nil, nil, err
	}

	db, err := repositories.InitDB(cfg.Database, logging.Named(logr, "gorm"))
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	return cfg, db, logr, nil
}

func newService(cfg config.Config, db *gorm.DB, logr *zap.SugaredLogger) escrow.Service {
	return escrow.NewService(
		repositories.NewEscrowRepository(db),
		nil,
		escrow.Config{
			DefaultConfirmationWindowHours: cfg.Escrow.ConfirmationWindowHours,
			DisputeReasonMinLength:         cfg.Escrow.DisputeReasonMinLength,
		},
		nil,
		logging.Named(logr, "escrow"),
	)
}

var migrateCmd = &cli.Command{
	Name:  "migrate",
	Usage: "create or update the database schema",
	Action: func(cctx *cli.Context) error {
		_, db, logr, err := setup(cctx)
		if err != nil {
			return err
		}
		defer repositories.Close(db)

		logr.Info("schema is up to date")
		return nil
	},
}

var sweepCmd = &cli.Command{
	Name:  "sweep",
	Usage: "release every delivered escrow whose confirmation deadline has passed",
	Flags: []cli.Flag{
		&cli.TimestampFlag{
			Name:   "now",
			Usage:  "sweep as of this RFC3339 time instead of the current time",
			Layout: time.RFC3339,
		},
	},
	Action: func(cctx *cli.Context) error {
		cfg, db, logr, err := setup(cctx)
		if err != nil {
			return err
		}
		defer repositories.Close(db)

		now := time.Now()
		if ts := cctx.Timestamp("now"); ts != nil {
			now = *ts
		}

		sweeper := sweep.NewSweeper(
			newService(cfg, db, logr),
			sweep.Config{
				Concurrency: cfg.Sweep.Concurrency,
				BatchSize:   cfg.Sweep.BatchSize,
			},
			nil,
			nil,
			logging.Named(logr, "sweep"),
		)
		report, err := sweeper.Run(cctx.Context, now)
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

var seedCmd = &cli.Command{
	Name:  "seed",
	Usage: "create a demo escrow between two users",
	Flags: []cli.Flag{
		&cli.UintFlag{Name: "buyer", Value: 1},
		&cli.UintFlag{Name: "seller", Value: 2},
		&cli.Int64Flag{Name: "amount", Value: 15000, Usage: "amount in minor units"},
		&cli.StringFlag{Name: "title", Value: "Demo escrow"},
		&cli.StringFlag{
			Name:  "until",
			Value: string(models.StatusCreated),
			Usage: "advance the escrow up to this status (created, funded, shipping, delivered)",
		},
	},
	Action: func(cctx *cli.Context) error {
		cfg, db, logr, err := setup(cctx)
		if err != nil {
			return err
		}
		defer repositories.Close(db)

		svc := newService(cfg, db, logr)
		ctx := cctx.Context
		buyer := escrow.Actor{UserID: cctx.Uint("buyer"), Role: models.RoleBuyer}
		seller := escrow.Actor{UserID: cctx.Uint("seller"), Role: models.RoleSeller}

		res, err := svc.CreateEscrow(ctx, escrow.CreateParams{
			Title:    cctx.String("title"),
			Amount:   cctx.Int64("amount"),
			BuyerID:  buyer.UserID,
			SellerID: seller.UserID,
		})
		if err != nil {
			return err
		}
		id := res.Escrow.ID

		steps := []struct {
			status models.EscrowStatus
			run    func() (*escrow.Result, error)
		}{
			{models.StatusFunded, func() (*escrow.Result, error) { return svc.Fund(ctx, id, buyer) }},
			{models.StatusShipping, func() (*escrow.Result, error) { return svc.Ship(ctx, id, seller) }},
			{models.StatusDelivered, func() (*escrow.Result, error) { return svc.Deliver(ctx, id, seller) }},
		}
		until := models.EscrowStatus(cctx.String("until"))
		if until != models.StatusCreated {
			found := false
			for _, step := range steps {
				if res, err = step.run(); err != nil {
					return fmt.Errorf("advance to %s: %w", step.status, err)
				}
				if step.status == until {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("--until must be created, funded, shipping or delivered, got %q", until)
			}
		}
		return printJSON(res.Escrow)
	},
}

var tokenCmd = &cli.Command{
	Name:  "token",
	Usage: "mint an access token for local testing",
	Flags: []cli.Flag{
		&cli.UintFlag{Name: "user", Required: true},
		&cli.StringFlag{
			Name:  "role",
			Value: models.PlatformRoleUser,
			Usage: "platform role: user, arbiter or admin",
		},
		&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
	},
	Action: func(cctx *cli.Context) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		role := cctx.String("role")
		switch role {
		case models.PlatformRoleUser, models.PlatformRoleArbiter, models.PlatformRoleAdmin:
		default:
			return fmt.Errorf("unknown role %q", role)
		}

		token, err := utils.GenerateToken(cfg.JWTSecret, &models.UserClaims{
			UserID: cctx.Uint("user"),
			Role:   role,
		}, cctx.Duration("ttl"))
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
