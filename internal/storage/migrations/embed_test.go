package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesSortedPerDialect(t *testing.T) {
	for _, dialect := range []string{"postgres", "sqlite"} {
		files, err := Files(dialect)
		require.NoError(t, err)
		assert.Equal(t, []string{"001_init.sql", "002_alerts.sql"}, files, dialect)
	}

	_, err := Files("mysql")
	assert.Error(t, err)
}
