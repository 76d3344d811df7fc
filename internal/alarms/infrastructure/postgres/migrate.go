package postgres

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// RunMigrations applies every pending migration from dir against
// databaseURL. A schema already at head is not an error.
func RunMigrations(databaseURL, dir string, logger *log.Logger) error {
	if databaseURL == "" {
		return errors.New("migrate: empty database url")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("migrate: resolve path %q: %w", dir, err)
	}
	runner, err := migrate.New("file://"+filepath.ToSlash(abs), databaseURL)
	if err != nil {
		return fmt.Errorf("migrate: init: %w", err)
	}
	defer func() {
		sourceErr, dbErr := runner.Close()
		if sourceErr != nil && logger != nil {
			logger.Printf("migration source close warning path=%s err=%v", dir, sourceErr)
		}
		if dbErr != nil && logger != nil {
			logger.Printf("migration db close warning err=%v", dbErr)
		}
	}()

	if err := runner.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			if logger != nil {
				logger.Printf("migrations up to date path=%s", dir)
			}
			return nil
		}
		return fmt.Errorf("migrate: up: %w", err)
	}
	if logger != nil {
		logger.Printf("migrations applied path=%s", dir)
	}
	return nil
}
