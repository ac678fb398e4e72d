package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: session and step tables
		{
			ID: "001_workflow_tables",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&WorkflowSession{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&WorkflowStep{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("workflow_sessions", "workflow_steps")
			},
		},

		// Migration 002: handoff audit table
		{
			ID: "002_agent_handoffs",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&AgentHandoff{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("agent_handoffs")
			},
		},

		// Migration 003: telemetry event log
		{
			ID: "003_telemetry_events",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&TelemetryEvent{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("telemetry_events")
			},
		},

		// Migration 004: quota accounting
		{
			ID: "004_quota_states",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&QuotaState{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("quota_states")
			},
		},
	})

	return m.Migrate()
}
