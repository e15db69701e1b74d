package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"payvault.org/internal/auth"
	"payvault.org/internal/config"
	"payvault.org/internal/credential"
	"payvault.org/internal/ids"
	"payvault.org/internal/migrate"
	"payvault.org/internal/store/pg"
	"payvault.org/internal/validate"
)

func main() {
	log.SetFlags(0)
	var (
		dsn            = flag.String("dsn", os.Getenv("PAYVAULT_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "ops/migrations/sql", "Path to SQL migrations")
		seedsPath      = flag.String("seeds", "ops/migrations/seeds", "Path to SQL seeds")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or PAYVAULT_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status|bootstrap-employee]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, os.DirFS("."), *migrationsPath, *seedsPath)

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	case "bootstrap-employee":
		err = bootstrapEmployee(ctx, db, flag.Args()[1:])
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

// bootstrapEmployee provisions a back office account. Registration only
// creates customers, so the first employee has to come from here. The
// password comes from PAYVAULT_BOOTSTRAP_PASSWORD to keep it out of shell
// history.
func bootstrapEmployee(ctx context.Context, db *sql.DB, args []string) error {
	fs := flag.NewFlagSet("bootstrap-employee", flag.ExitOnError)
	var (
		username = fs.String("username", "", "Employee username")
		fullName = fs.String("full-name", "", "Employee full name")
		email    = fs.String("email", "", "Employee email (optional)")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	password := os.Getenv("PAYVAULT_BOOTSTRAP_PASSWORD")
	switch {
	case !validate.Username(*username):
		return fmt.Errorf("invalid -username")
	case !validate.FullName(*fullName):
		return fmt.Errorf("invalid -full-name")
	case *email != "" && !validate.Email(*email):
		return fmt.Errorf("invalid -email")
	case !validate.Password(password):
		return fmt.Errorf("PAYVAULT_BOOTSTRAP_PASSWORD must be 8-100 chars with upper, lower, digit and special")
	}

	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	hasher, err := credential.New(credential.Config{
		Strategy:   cfg.HashStrategy,
		Pepper:     []byte(cfg.Pepper),
		BcryptCost: cfg.BcryptCost,
		Argon2: credential.Argon2idParams{
			Memory:      cfg.Argon2Memory,
			Time:        cfg.Argon2Time,
			Parallelism: cfg.Argon2Parallelism,
		},
	})
	if err != nil {
		return err
	}
	encoded, err := hasher.Hash(password)
	if err != nil {
		return err
	}

	identity := &auth.Identity{
		ID:         ids.New(),
		Type:       auth.TypeEmployee,
		Username:   validate.NormalizeUsername(*username),
		FullName:   *fullName,
		Email:      *email,
		Credential: encoded,
		Status:     auth.StatusActive,
	}
	if err := pg.NewStore(db).Identities().Create(ctx, identity); err != nil {
		return err
	}
	fmt.Printf("employee %s created with id %s\n", identity.Username, identity.ID)
	return nil
}
