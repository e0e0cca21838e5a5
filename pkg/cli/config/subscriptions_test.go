package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/iris/pkg/cli/config"
	"github.com/secmon-lab/iris/pkg/domain/types"
)

func TestLoadSubscriptionConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{
			name: "valid configuration",
			content: `
[[subscription]]
id = "sub-channel-a"
user_id = "user-1"
name = "General channel"

[[subscription]]
id = "sub-channel-b"
user_id = "user-2"
name = "Incident channel"
`,
			wantErr: false,
		},
		{
			name:    "empty configuration",
			content: "\n",
			wantErr: false,
		},
		{
			name:    "config file not found",
			content: "", // Won't create the file
			wantErr: true,
		},
		{
			name: "duplicate subscription ID",
			content: `
[[subscription]]
id = "sub-channel-a"
user_id = "user-1"

[[subscription]]
id = "sub-channel-a"
user_id = "user-2"
`,
			wantErr: true,
		},
		{
			name: "missing subscription ID",
			content: `
[[subscription]]
user_id = "user-1"
name = "General channel"
`,
			wantErr: true,
		},
		{
			name: "missing user ID",
			content: `
[[subscription]]
id = "sub-channel-a"
name = "General channel"
`,
			wantErr: true,
		},
		{
			name: "broken TOML",
			content: `
[[subscription]
id = "sub-channel-a"
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "subscriptions.toml")

			// Only create file if content is not empty
			if tt.content != "" {
				err := os.WriteFile(configPath, []byte(tt.content), 0644)
				gt.NoError(t, err).Required()
			}

			cfg, err := config.LoadSubscriptionConfig(configPath)

			if tt.wantErr {
				gt.Value(t, err).NotNil()
				return
			}
			gt.NoError(t, err).Required()
			gt.Value(t, cfg).NotNil()
		})
	}
}

func TestSubscriptionConfigToRegistry(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subscriptions.toml")

	content := `
[[subscription]]
id = "sub-channel-a"
user_id = "user-1"
name = "General channel"

[[subscription]]
id = "sub-channel-b"
user_id = "user-2"
name = "Incident channel"
`
	gt.NoError(t, os.WriteFile(configPath, []byte(content), 0644)).Required()

	cfg, err := config.LoadSubscriptionConfig(configPath)
	gt.NoError(t, err).Required()

	registry := cfg.ToRegistry()
	subs := registry.List()
	gt.Array(t, subs).Length(2)
	gt.Value(t, subs[0].ID).Equal(types.SubscriptionID("sub-channel-a"))
	gt.Value(t, subs[1].Name).Equal("Incident channel")

	userID, err := registry.UserOf(types.SubscriptionID("sub-channel-b"))
	gt.NoError(t, err)
	gt.Value(t, userID).Equal(types.UserID("user-2"))

	_, err = registry.UserOf(types.SubscriptionID("missing"))
	gt.Value(t, err).NotNil()
}
