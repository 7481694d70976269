package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"salesflow/models"
)

func openMigratedDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, MigrateDB(db))
	return db
}

func TestMigrateDBCreatesAllTables(t *testing.T) {
	db := openMigratedDB(t)

	for _, table := range []string{
		"organizations", "users", "senders", "leads", "message_templates",
		"cadences", "cadence_steps", "cadence_enrollments", "interactions",
	} {
		assert.True(t, db.Migrator().HasTable(table), "missing table %s", table)
	}
}

func TestMigrateDBColumnNames(t *testing.T) {
	db := openMigratedDB(t)

	// Columns referenced by raw query strings elsewhere in the codebase.
	assert.True(t, db.Migrator().HasColumn(&models.CadenceStep{}, "ai_personalization"))
	assert.True(t, db.Migrator().HasColumn(&models.CadenceEnrollment{}, "next_step_due"))
	assert.True(t, db.Migrator().HasColumn(&models.Interaction{}, "external_id"))
}

func TestUserBelongsToOrganization(t *testing.T) {
	db := openMigratedDB(t)

	org := models.Organization{Name: "Acme"}
	require.NoError(t, db.Create(&org).Error)
	user := models.User{OrgID: org.ID, Email: "owner@acme.test"}
	require.NoError(t, db.Create(&user).Error)

	var loaded models.User
	require.NoError(t, db.Preload("Organization").First(&loaded, user.ID).Error)
	assert.Equal(t, org.ID, loaded.Organization.ID)
	assert.Equal(t, "Acme", loaded.Organization.Name)
}
