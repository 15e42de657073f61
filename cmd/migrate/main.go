// Command migrate applies or rolls back the SQL migrations in db/migrations.
//
//	migrate [-config dir] [-path db/migrations] up|down|steps N|version|force V
package main

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/wfunc/picklo/config"
	"github.com/wfunc/picklo/logger"
)

func databaseURL(c config.PostgresConfig) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.DBName,
	}
	q := u.Query()
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

func main() {
	configDir := flag.String("config", ".", "directory containing config.yaml")
	path := flag.String("path", "", "migrations directory (default database.migrations_path)")
	flag.Parse()

	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.Init(cfg.Log.Level)
	defer logger.Sync()

	dir := cfg.Database.MigrationsPath
	if *path != "" {
		dir = *path
	}
	m, err := migrate.New("file://"+dir, databaseURL(cfg.Database.Postgres))
	if err != nil {
		logger.Log.Fatalf("open migrations: %v", err)
	}
	defer m.Close()

	args := flag.Args()
	if len(args) == 0 {
		args = []string{"up"}
	}
	switch args[0] {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "steps":
		if len(args) != 2 {
			logger.Log.Fatal("usage: migrate steps N")
		}
		n, perr := strconv.Atoi(args[1])
		if perr != nil {
			logger.Log.Fatalf("invalid step count %q", args[1])
		}
		err = m.Steps(n)
	case "force":
		if len(args) != 2 {
			logger.Log.Fatal("usage: migrate force VERSION")
		}
		v, perr := strconv.Atoi(args[1])
		if perr != nil {
			logger.Log.Fatalf("invalid version %q", args[1])
		}
		err = m.Force(v)
	case "version":
	default:
		logger.Log.Fatalf("unknown command %q", args[0])
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Log.Fatalf("%s: %v", args[0], err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logger.Log.Fatalf("version: %v", err)
	}
	logger.Log.Infow("migrations", "version", version, "dirty", dirty)
}
