package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/IlyasAtabaev731/p2p-market/internal/config"
)

func main() {
	var dbURL, migrationsPath, migrationsTable string
	var down bool

	flag.StringVar(&dbURL, "db-url", "", "postgres url; built from POSTGRES_* variables when empty")
	flag.StringVar(&migrationsPath, "migrations-path", "./migrations", "path to migrations")
	flag.StringVar(&migrationsTable, "migrations-table", "schema_migrations", "name of migrations table")
	flag.BoolVar(&down, "down", false, "roll every migration back")
	flag.Parse()

	_ = godotenv.Load()

	if dbURL == "" {
		var pg config.Postgres
		if err := cleanenv.ReadEnv(&pg); err != nil {
			fmt.Fprintln(os.Stderr, "failed to read postgres settings:", err)
			os.Exit(1)
		}
		dbURL = pg.DSN()
	}
	if migrationsPath == "" {
		fmt.Fprintln(os.Stderr, "migrations path is required")
		os.Exit(1)
	}

	m, err := migrate.New("file://"+migrationsPath, withTable(dbURL, migrationsTable))
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to init migrations:", err)
		os.Exit(1)
	}
	defer m.Close()

	if down {
		err = m.Down()
	} else {
		err = m.Up()
	}
	if err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			fmt.Println("no migrations to apply")
			return
		}
		fmt.Fprintln(os.Stderr, "migration failed:", err)
		os.Exit(1)
	}

	fmt.Println("migrations applied successfully")
}

func withTable(dbURL, table string) string {
	sep := "?"
	if strings.Contains(dbURL, "?") {
		sep = "&"
	}
	return dbURL + sep + "x-migrations-table=" + table
}
