package version

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetUsesLinkerValues(t *testing.T) {
	defer func(v, c, b string) { Version, GitCommit, BuildTime = v, c, b }(Version, GitCommit, BuildTime)
	Version, GitCommit, BuildTime = "v1.2.3", "0123456789abcdef", "2024-05-01T12:00:00Z"

	info := Get()
	assert.Equal(t, "v1.2.3", info.Version)
	assert.Equal(t, "0123456789abcdef", info.GitCommit)
	assert.True(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Equal(info.BuildTime))
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
	assert.True(t, info.Release)
	assert.Equal(t, "v1.2.3 (0123456)", info.Short())
	assert.Contains(t, info.String(), "Built: 2024-05-01T12:00:00Z")
}

func TestDevBuild(t *testing.T) {
	info := Info{Version: "dev-0123456", GitCommit: "0123456789", GoVersion: "go1.22", Platform: "linux/amd64", Dirty: true}
	assert.Equal(t, "dev-0123456", info.Short())
	assert.Equal(t, "Version: dev-0123456\nCommit: 0123456789 (dirty)\nGo: go1.22\nPlatform: linux/amd64", info.String())
}

func TestParseTime(t *testing.T) {
	assert.True(t, parseTime("unknown").IsZero())
	assert.True(t, parseTime("yesterday").IsZero())
	assert.Equal(t, 2024, parseTime("2024-01-02 03:04:05").Year())
}
