package config

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBuildInfo_VersionDefaultsToDev(t *testing.T) {
	assert.Equal(t, "dev", NewBuildInfo().Version)
}

func TestFillFromVCS(t *testing.T) {
	tests := []struct {
		name     string
		start    BuildInfo
		settings []debug.BuildSetting
		want     BuildInfo
	}{
		{
			name:  "no vcs stamp",
			start: BuildInfo{Version: "dev", Commit: "none", BuildTime: "unknown"},
			want:  BuildInfo{Version: "dev", Commit: "none", BuildTime: "unknown"},
		},
		{
			name:  "clean checkout",
			start: BuildInfo{Version: "dev", Commit: "none", BuildTime: "unknown"},
			settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "0123456789abcdef0123"},
				{Key: "vcs.time", Value: "2026-10-01T08:00:00Z"},
				{Key: "vcs.modified", Value: "false"},
			},
			want: BuildInfo{Version: "dev", Commit: "0123456789ab", BuildTime: "2026-10-01T08:00:00Z"},
		},
		{
			name:  "dirty tree",
			start: BuildInfo{Version: "dev", Commit: "none", BuildTime: "unknown"},
			settings: []debug.BuildSetting{
				{Key: "vcs.modified", Value: "true"},
				{Key: "vcs.revision", Value: "abc123"},
			},
			want: BuildInfo{Version: "dev", Commit: "abc123-dirty", BuildTime: "unknown"},
		},
		{
			name:  "ldflags win",
			start: BuildInfo{Version: "v1.0.0", Commit: "deadbee", BuildTime: "yesterday"},
			settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "abc123"},
				{Key: "vcs.time", Value: "2026-10-01T08:00:00Z"},
			},
			want: BuildInfo{Version: "v1.0.0", Commit: "deadbee", BuildTime: "yesterday"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.start
			fillFromVCS(&got, tt.settings)
			assert.Equal(t, tt.want, got)
		})
	}
}
