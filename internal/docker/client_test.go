package docker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHostEnv simulates goos with the given environment and existing hosts.
func fakeHostEnv(goos string, env map[string]string, existing ...string) hostEnv {
	return hostEnv{
		goos:   goos,
		home:   "/home/dev",
		getenv: func(key string) string { return env[key] },
		probe: func(host string) bool {
			for _, h := range existing {
				if h == host {
					return true
				}
			}
			return false
		},
	}
}

func TestResolveHost(t *testing.T) {
	tests := []struct {
		name    string
		env     hostEnv
		want    string
		wantErr bool
	}{
		{
			name: "DOCKER_HOST wins",
			env:  fakeHostEnv("linux", map[string]string{"DOCKER_HOST": "tcp://10.0.0.5:2375"}, "unix:///var/run/docker.sock"),
			want: "tcp://10.0.0.5:2375",
		},
		{
			name: "linux socket",
			env:  fakeHostEnv("linux", nil, "unix:///var/run/docker.sock"),
			want: "unix:///var/run/docker.sock",
		},
		{
			name: "darwin falls back to the per-user socket",
			env:  fakeHostEnv("darwin", nil, "unix:///home/dev/.docker/run/docker.sock"),
			want: "unix:///home/dev/.docker/run/docker.sock",
		},
		{
			name: "windows named pipe",
			env:  fakeHostEnv("windows", nil, "npipe:////./pipe/docker_engine"),
			want: "npipe:////./pipe/docker_engine",
		},
		{
			name:    "no socket",
			env:     fakeHostEnv("linux", nil),
			wantErr: true,
		},
		{
			name:    "unsupported platform",
			env:     fakeHostEnv("plan9", nil),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveHost(tt.env)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHostCandidates_DarwinWithoutHome(t *testing.T) {
	assert.Equal(t, []string{"unix:///var/run/docker.sock"}, hostCandidates("darwin", ""))
}

func TestProbeHost(t *testing.T) {
	assert.False(t, probeHost("unix:///nonexistent/docker.sock"))
	assert.False(t, probeHost("tcp://localhost:2375"))
}
