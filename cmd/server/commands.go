package main

import (
	"fmt"

	"storefront/internal/broker"
	"storefront/internal/mcp"
	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/util"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "manage the database schema",
		Subcommands: []*cli.Command{
			{
				Name:  "up",
				Usage: "apply all pending migrations",
				Action: func(c *cli.Context) error {
					_, db, err := bootstrap()
					if err != nil {
						return err
					}
					defer db.Close()

					if err := db.Migrate(); err != nil {
						return err
					}
					util.GetLogger().Info("Migrations applied")
					return nil
				},
			},
			{
				Name:  "down",
				Usage: "roll back migrations",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "steps", Value: 1, Usage: "number of migrations to roll back"},
				},
				Action: func(c *cli.Context) error {
					_, db, err := bootstrap()
					if err != nil {
						return err
					}
					defer db.Close()

					if err := db.MigrateDown(c.Int("steps")); err != nil {
						return err
					}
					util.GetLogger().Info("Migrations rolled back", zap.Int("steps", c.Int("steps")))
					return nil
				},
			},
			{
				Name:  "version",
				Usage: "print the current schema version",
				Action: func(c *cli.Context) error {
					_, db, err := bootstrap()
					if err != nil {
						return err
					}
					defer db.Close()

					version, dirty, err := db.SchemaVersion()
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "version=%d dirty=%t\n", version, dirty)
					return nil
				},
			},
		},
	}
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "serve read-only stock and order tools over MCP stdio",
		Action: func(c *cli.Context) error {
			cfg, db, err := bootstrap()
			if err != nil {
				return err
			}
			defer db.Close()

			// stdout carries the protocol; events only go to the log
			events := broker.NewEventPublisher(broker.NewLogProducer())
			orders := service.NewOrderService(db, events, service.OrderOptions{
				DefaultPageSize: cfg.Business.DefaultPageSize,
				MaxPageSize:     cfg.Business.MaxPageSize,
			})

			util.GetLogger().Info("Starting MCP server")
			return mcp.NewServer(orders, service.NewInventoryService(db)).Serve(c.Context)
		},
	}
}

func createUserCommand() *cli.Command {
	return &cli.Command{
		Name:  "create-user",
		Usage: "provision a back-office user",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "username", Required: true},
			&cli.StringFlag{Name: "email", Required: true},
			&cli.StringFlag{Name: "role", Value: models.RoleCustomer, Usage: "admin, advanced_user or customer"},
		},
		Action: func(c *cli.Context) error {
			_, db, err := bootstrap()
			if err != nil {
				return err
			}
			defer db.Close()

			user := &models.User{
				Username: c.String("username"),
				Email:    c.String("email"),
			}
			if err := db.CreateUser(c.Context, user, c.String("role")); err != nil {
				return err
			}

			util.GetLogger().Info("User created",
				zap.Int64("user_id", user.ID),
				zap.String("username", user.Username),
				zap.String("role", c.String("role")))
			fmt.Fprintf(c.App.Writer, "%d\n", user.ID)
			return nil
		},
	}
}
