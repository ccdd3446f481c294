package storage

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campaign-targeting/migrations"
)

func TestParseMigrations_Ordered(t *testing.T) {
	fsys := fstest.MapFS{
		"002_b.sql":  {Data: []byte("SELECT 2;")},
		"001_a.sql":  {Data: []byte("SELECT 1;")},
		"README.txt": {Data: []byte("ignored")},
	}
	ms, err := parseMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "001_a.sql", ms[0].ID)
	assert.Equal(t, "002_b.sql", ms[1].ID)
	assert.Len(t, ms[0].Checksum, 64)
}

func TestParseMigrations_Embedded(t *testing.T) {
	ms, err := parseMigrations(migrations.FS)
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	assert.Equal(t, "001_init.sql", ms[0].ID)
	assert.Contains(t, ms[0].SQL, DefaultChannel, "triggers publish on the listener's channel")
}

func TestCheckApplied(t *testing.T) {
	ms := []migration{{ID: "001_a.sql", Checksum: "aa"}, {ID: "002_b.sql", Checksum: "bb"}}
	tests := []struct {
		name    string
		applied map[string]string
		wantErr bool
	}{
		{"nothing applied", map[string]string{}, false},
		{"matching checksum", map[string]string{"001_a.sql": "aa"}, false},
		{"modified after apply", map[string]string{"001_a.sql": "zz"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkApplied(ms, tt.applied)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
