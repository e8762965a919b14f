package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityHealthChecker(t *testing.T) {
	tests := []struct {
		name       string
		binaryName string
		envPrefix  string
		configName string
		wantErr    bool
		errContain string
	}{
		{
			name:       "all fields valid",
			binaryName: "hpcjobs",
			envPrefix:  "HPCJOBS",
			configName: "hpcjobs",
			wantErr:    false,
		},
		{
			name:       "missing binary name",
			binaryName: "",
			envPrefix:  "HPCJOBS",
			configName: "hpcjobs",
			wantErr:    true,
			errContain: "missing binary name",
		},
		{
			name:       "missing env prefix",
			binaryName: "hpcjobs",
			envPrefix:  "",
			configName: "hpcjobs",
			wantErr:    true,
			errContain: "missing env prefix",
		},
		{
			name:       "missing config name",
			binaryName: "hpcjobs",
			envPrefix:  "HPCJOBS",
			configName: "",
			wantErr:    true,
			errContain: "missing config name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := identityHealthChecker{
				binaryName: tt.binaryName,
				envPrefix:  tt.envPrefix,
				configName: tt.configName,
			}

			err := checker.CheckHealth(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContain)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStoreHealthChecker(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing store is healthy", func(t *testing.T) {
		checker := storeHealthChecker{path: filepath.Join(dir, "jobs.json")}
		assert.NoError(t, checker.CheckHealth(context.Background()))
	})

	t.Run("readable store is healthy", func(t *testing.T) {
		path := filepath.Join(dir, "present.json")
		require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))
		checker := storeHealthChecker{path: path}
		assert.NoError(t, checker.CheckHealth(context.Background()))
	})

	t.Run("unreadable store is unhealthy", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("permissions are not enforced for root")
		}
		path := filepath.Join(dir, "locked.json")
		require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o000))
		checker := storeHealthChecker{path: path}
		err := checker.CheckHealth(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "job store")
	})
}
