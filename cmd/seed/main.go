// seed inserts development sample data for local testing.
// Idempotent: skips inserts if the dev user (adalovelace) already exists.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/svenmapprio/menuet/internal/config"
	"github.com/svenmapprio/menuet/internal/db"
	"github.com/svenmapprio/menuet/internal/logging"
	policydomain "github.com/svenmapprio/menuet/internal/policy/domain"
	policyrepo "github.com/svenmapprio/menuet/internal/policy/repository"
	userdomain "github.com/svenmapprio/menuet/internal/user/domain"
	userrepo "github.com/svenmapprio/menuet/internal/user/repository"
)

// samplePolicy is disabled; enable it to try operator guards locally.
const samplePolicy = `package menuet.guards

deny contains "description must be at most 500 characters" if {
	input.route == "put/placeEnrichment"
	count(input.body.description) > 500
}
`

var devUsers = []userdomain.User{
	{FirstName: "Ada", LastName: "Lovelace"},
	{FirstName: "Grace", LastName: "Hopper"},
	{FirstName: "Alan", LastName: "Turing"},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.Env)
	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL is not set")
	}
	pool, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer pool.Close()

	ctx := context.Background()
	if err := db.WithTx(ctx, pool, func(tx *sql.Tx) error { return seed(ctx, tx, log) }); err != nil {
		log.Fatal().Err(err).Msg("seed")
	}
}

func seed(ctx context.Context, q db.DBTX, log zerolog.Logger) error {
	users := userrepo.NewPostgresRepository(q)
	first := userdomain.BaseHandle(devUsers[0].FirstName, devUsers[0].LastName)
	n, err := users.CountHandles(ctx, first)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Info().Str("handle", first).Msg("dev data already present, skipping")
		return nil
	}

	ids := make([]int64, 0, len(devUsers))
	for _, tmpl := range devUsers {
		u := tmpl
		u.Handle = userdomain.BaseHandle(u.FirstName, u.LastName)
		if err := users.Create(ctx, &u); err != nil {
			return fmt.Errorf("create %s: %w", u.Handle, err)
		}
		ids = append(ids, u.ID)
		log.Info().Int64("id", u.ID).Str("handle", u.Handle).Msg("created user")
	}
	// Ada and Grace are mutual friends; Alan follows Ada one way.
	for _, pair := range [][2]int64{{ids[0], ids[1]}, {ids[1], ids[0]}, {ids[2], ids[0]}} {
		if err := users.AddFriend(ctx, pair[0], pair[1]); err != nil {
			return err
		}
	}

	p := &policydomain.Policy{ID: uuid.NewString(), Name: "sample-description-length", Rules: samplePolicy}
	if err := policyrepo.NewPostgresRepository(q).Create(ctx, p); err != nil {
		return fmt.Errorf("create policy: %w", err)
	}
	log.Info().Str("policy", p.Name).Bool("enabled", p.Enabled).Msg("created guard policy")
	return nil
}
