package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/encore/internal/app"
	"github.com/tejashwikalptaru/encore/internal/config"
)

func execute(t *testing.T, fs afero.Fs, args ...string) (string, error) {
	t.Helper()

	root := NewRootCommand(fs)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	info := app.GetVersionInfo()

	out, err := execute(t, afero.NewMemMapFs(), "version")
	require.NoError(t, err)
	assert.Equal(t, info.FullString()+"\n", out)

	out, err = execute(t, afero.NewMemMapFs(), "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, info.Short()+"\n", out)

	out, err = execute(t, afero.NewMemMapFs(), "version", "--json")
	require.NoError(t, err)
	var decoded app.VersionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, info, decoded)
}

func TestConfigCommand(t *testing.T) {
	out, err := execute(t, afero.NewMemMapFs(), "config")
	require.NoError(t, err)
	for _, f := range config.Fields() {
		assert.Contains(t, out, f.Key)
		assert.Contains(t, out, f.Env())
	}

	out, err = execute(t, afero.NewMemMapFs(), "config", "--key", config.PlayerFadeTarget, "--json")
	require.NoError(t, err)

	var entries []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, config.PlayerFadeTarget, entries[0]["key"])
	assert.Equal(t, "ENCORE_PLAYER_FADE_TARGET", entries[0]["env"])
	assert.Equal(t, "0.3", entries[0]["default"])

	_, err = execute(t, afero.NewMemMapFs(), "config", "--key", "player.nope")
	assert.ErrorContains(t, err, "unknown key player.nope")
}

func TestPlayCommand_MissingConfig(t *testing.T) {
	_, err := execute(t, afero.NewMemMapFs(), "play", "--config", "/missing.toml")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPlayCommand_ExclusiveSources(t *testing.T) {
	_, err := execute(t, afero.NewMemMapFs(), "play", "--playlist", "a.json", "--library", "/music")
	assert.Error(t, err)
}

func TestLoadPlayConfig(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/encore.toml", []byte(`
[library]
dir = "/music"

[http]
enabled = false
`), 0o644))

	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "file only",
			args: []string{"--config", "/encore.toml"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "/music", cfg.Library.Dir)
				assert.False(t, cfg.HTTP.Enabled)
				assert.True(t, cfg.MPRIS.Enabled)
			},
		},
		{
			name: "playlist replaces library",
			args: []string{"--config", "/encore.toml", "--playlist", "/tracks.json"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "/tracks.json", cfg.Library.Playlist)
				assert.Empty(t, cfg.Library.Dir)
			},
		},
		{
			name: "addr enables http",
			args: []string{"--config", "/encore.toml", "--addr", "127.0.0.1:9000", "--no-mpris"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.True(t, cfg.HTTP.Enabled)
				assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Addr)
				assert.False(t, cfg.MPRIS.Enabled)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newPlayCommand(fs)
			require.NoError(t, cmd.ParseFlags(tt.args))
			flags := flagsOf(t, cmd)

			cfg, err := loadPlayConfig(cmd, fs, flags)
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

// flagsOf reads the parsed play flags back from cmd.
func flagsOf(t *testing.T, cmd *cobra.Command) playFlags {
	t.Helper()

	get := func(name string) string {
		v, err := cmd.Flags().GetString(name)
		require.NoError(t, err)
		return v
	}
	noMPRIS, err := cmd.Flags().GetBool("no-mpris")
	require.NoError(t, err)

	return playFlags{
		config:   get("config"),
		playlist: get("playlist"),
		library:  get("library"),
		addr:     get("addr"),
		noMPRIS:  noMPRIS,
	}
}
