package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/predictionperps/internal/domain"
)

func TestListQuery(t *testing.T) {
	since := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		opts  domain.ListOpts
		query string
		args  int
	}{
		{
			name:  "no filters",
			opts:  domain.ListOpts{},
			query: "SELECT * FROM t ORDER BY ts DESC",
		},
		{
			name:  "since and paging",
			opts:  domain.ListOpts{Since: &since, Limit: 10, Offset: 20},
			query: "SELECT * FROM t WHERE ts >= $1 ORDER BY ts DESC LIMIT $2 OFFSET $3",
			args:  3,
		},
		{
			name:  "window",
			opts:  domain.ListOpts{Since: &since, Until: &since},
			query: "SELECT * FROM t WHERE ts >= $1 AND ts <= $2 ORDER BY ts DESC",
			args:  2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, args := listQuery("SELECT * FROM t", "ts", tt.opts)
			assert.Equal(t, tt.query, q)
			assert.Len(t, args, tt.args)
		})
	}
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/desk?sslmode=require",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "desk"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: " postgres://x ", Host: "ignored"}))
}
