package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/signal_bridge/internal/app/storage/memory"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"empty defaults to memory", Config{}, false},
		{"memory", Config{Driver: "Memory"}, false},
		{"postgres without dsn", Config{Driver: "postgres"}, true},
		{"postgres", Config{Driver: "postgres", DSN: "postgres://localhost/bridge"}, false},
		{"redis without addr", Config{Driver: "redis"}, true},
		{"redis", Config{Driver: "redis", RedisAddr: "localhost:6379"}, false},
		{"unknown", Config{Driver: "bolt"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOpenMemory(t *testing.T) {
	st, err := Open(context.Background(), Config{}, 1)
	require.NoError(t, err)
	defer st.Close()
	_, ok := st.(*memory.Store)
	assert.True(t, ok)
}

func TestOpenRejectsInvalid(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "bolt"}, 1)
	assert.Error(t, err)
}
