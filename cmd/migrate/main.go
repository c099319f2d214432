package main

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/klarnow/tracker/pkg/config"
)

const usage = `Usage: migrate [-dir path] <command>

Commands:
  up        apply all pending migrations (default)
  down      roll back the last migration
  version   print the applied version
  force N   mark version N as applied without running it`

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	dir := flag.String("dir", "", "migrations directory (default: search upwards for database/migrations)")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Database.IsSQLite() {
		log.Info().Msg("sqlite store creates its schema on open, nothing to migrate")
		return
	}

	source := *dir
	if source == "" {
		source = findMigrationsDir()
	}
	m, err := migrate.New("file://"+source, postgresURL(cfg.Database))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create migrator")
	}
	defer m.Close()

	if err := run(m, flag.Arg(0), flag.Arg(1)); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}

func run(m *migrate.Migrate, command, arg string) error {
	switch command {
	case "", "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		log.Info().Msg("Database is up to date")
	case "down":
		if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		log.Info().Msg("Rolled back one migration")
	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Println("no migrations applied")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("version %d (dirty: %t)\n", version, dirty)
	case "force":
		version, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("force needs a version number: %w", err)
		}
		if err := m.Force(version); err != nil {
			return err
		}
		log.Info().Int("version", version).Msg("Forced version")
	default:
		flag.Usage()
		os.Exit(2)
	}
	return nil
}

// postgresURL prefers DATABASE_URL and otherwise assembles one from the
// discrete settings, since migrate does not accept key=value DSNs.
func postgresURL(db config.DatabaseConfig) string {
	u, err := url.Parse(db.URL)
	if db.URL == "" || err != nil {
		u = &url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(db.User, db.Password),
			Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
			Path:   "/" + db.Name,
		}
	}
	q := u.Query()
	if q.Get("sslmode") == "" {
		mode := db.SSLMode
		if mode == "" {
			mode = "disable"
		}
		q.Set("sslmode", mode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func findMigrationsDir() string {
	cwd, _ := os.Getwd()
	for dir := cwd; ; dir = filepath.Dir(dir) {
		path := filepath.Join(dir, "database", "migrations")
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return path
		}
		if filepath.Dir(dir) == dir {
			break
		}
	}
	log.Fatal().Msg("Could not find database/migrations, pass -dir")
	return ""
}
