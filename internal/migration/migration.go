package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	moviedomain "github.com/marquee/catalog/internal/movie/domain"
	ratingdomain "github.com/marquee/catalog/internal/rating/domain"
	"gorm.io/gorm"
)

const migrationsDir = "sql"

//go:embed sql/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies the embedded postgres schema.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// AutoMigrate builds the schema from the models for mysql and sqlite.
// Both treat NULLs as distinct in unique indexes, so plain composite indexes
// give the same one-rating-per-viewer rule as the postgres partial ones.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(&moviedomain.Movie{}, &ratingdomain.Rating{}, &ratingdomain.MovieStatistics{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	for _, idx := range []struct{ name, columns string }{
		{"ux_ratings_movie_user", "movie_id, user_id"},
		{"ux_ratings_movie_session", "movie_id, session_id"},
	} {
		if conn.Migrator().HasIndex(&ratingdomain.Rating{}, idx.name) {
			continue
		}
		stmt := fmt.Sprintf("CREATE UNIQUE INDEX %s ON ratings (%s)", idx.name, idx.columns)
		if err := conn.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}
