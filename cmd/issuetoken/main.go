// Command issuetoken signs a bearer token for the admin API routes.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"gopherai-rag/internal/config"
	"gopherai-rag/internal/logging"
	"gopherai-rag/internal/pkg/jwtutil"
)

func main() {
	if err := run(context.Background(), os.Args); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	logger := logging.New(cfg.Log)

	var (
		subject string
		role    string
		secret  string
		ttl     time.Duration
	)
	cmd := &cli.Command{
		Name:  "issuetoken",
		Usage: "Issue a JWT for the gopherai-rag admin routes",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "subject",
				Aliases:     []string{"s"},
				Usage:       "operator name recorded in the token",
				Required:    true,
				Destination: &subject,
			},
			&cli.StringFlag{
				Name:        "role",
				Value:       "admin",
				Destination: &role,
			},
			&cli.StringFlag{
				Name:        "secret",
				Usage:       "signing secret, defaults to auth.jwt_secret",
				Value:       cfg.Auth.JWTSecret,
				Sources:     cli.EnvVars("JWT_SECRET"),
				Destination: &secret,
			},
			&cli.DurationFlag{
				Name:        "ttl",
				Value:       time.Duration(cfg.Auth.JWTExpireMinute) * time.Minute,
				Destination: &ttl,
			},
		},
		Action: func(context.Context, *cli.Command) error {
			token, err := jwtutil.GenerateToken(secret, subject, role, ttl)
			if err != nil {
				return err
			}
			logger.Info("token issued", "subject", subject, "role", role, "expires_in", ttl)
			fmt.Fprintln(os.Stdout, token)
			return nil
		},
	}

	if err := cmd.Run(ctx, args); err != nil {
		logger.Error("issue token failed", "error", err)
		return err
	}
	return nil
}
