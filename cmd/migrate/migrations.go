package main

import (
	"gorm.io/gorm"

	"github.com/stackforge/engine/internal/models"
)

// registerModels returns all models that need migration
func registerModels() []interface{} {
	return []interface{}{
		// User Management
		&models.User{},
		&models.CloudCredential{},

		// Projects & Stacks
		&models.Project{},
		&models.StackSpec{},

		// Deployments
		&models.Deployment{},
		&models.Resource{},
	}
}

// runMigrations executes all database migrations
func runMigrations(db *gorm.DB) error {
	// UUID generation must exist before AutoMigrate creates the tables
	if err := enableUUIDExtension(db); err != nil {
		return err
	}

	if err := db.AutoMigrate(registerModels()...); err != nil {
		return err
	}

	return runCustomMigrations(db)
}

// runCustomMigrations handles schema changes AutoMigrate can't handle
func runCustomMigrations(db *gorm.DB) error {
	migrations := []func(*gorm.DB) error{
		addDeploymentIndexes,
	}

	for _, migration := range migrations {
		if err := migration(db); err != nil {
			return err
		}
	}

	return nil
}

// enableUUIDExtension ensures UUID generation is available
func enableUUIDExtension(db *gorm.DB) error {
	return db.Exec(`CREATE EXTENSION IF NOT EXISTS "pgcrypto"`).Error
}

// addDeploymentIndexes adds custom indexes for hot lookup paths
func addDeploymentIndexes(db *gorm.DB) error {
	// active-deployment check scans project + status
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_deployments_project_status
		ON deployments(project_id, status)
		WHERE deleted_at IS NULL
	`).Error; err != nil {
		return err
	}

	// current-spec lookup per project
	return db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_stack_specs_project_current
		ON stack_specs(project_id)
		WHERE is_current AND deleted_at IS NULL
	`).Error
}
