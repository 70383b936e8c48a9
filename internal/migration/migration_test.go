package migration

import (
	"io/fs"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestApplyFallsBackToAutoMigrate(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:migration_apply?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, Apply(conn))
	assert.True(t, conn.Migrator().HasTable("billing_documents"))
	assert.True(t, conn.Migrator().HasIndex("billing_documents", "idx_billing_documents_type_record"))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(embeddedMigrations, migrationsDir+"/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(embeddedMigrations, migrationsDir+"/*.down.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)
	assert.Equal(t, len(ups), len(downs))
}

func TestApplyRequiresHandle(t *testing.T) {
	require.Error(t, Apply(nil))
}
