package docker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/docker/docker/client"

	"github.com/shinji-kodama/urlshield/internal/model"
)

// pingTimeout bounds the daemon check in Connect. Docker Desktop on macOS
// can take a few seconds to answer after waking up.
const pingTimeout = 5 * time.Second

// Client is a verified connection to the Docker Engine used by
// `urlshield image`.
type Client struct {
	inner *client.Client
	host  string
}

// hostEnv describes where Connect looks for the daemon. Tests replace the
// probes to simulate other platforms.
type hostEnv struct {
	goos   string
	home   string
	getenv func(string) string
	probe  func(host string) bool
}

func defaultHostEnv() hostEnv {
	home, _ := os.UserHomeDir()
	return hostEnv{
		goos:   runtime.GOOS,
		home:   home,
		getenv: os.Getenv,
		probe:  probeHost,
	}
}

// Connect finds the daemon, negotiates the API version and checks that the
// daemon answers. DOCKER_HOST wins when set; otherwise the platform sockets
// from hostCandidates are tried in order. Every failure is a
// model.CLIError with ExitDockerNotRunning.
func Connect(ctx context.Context) (*Client, error) {
	host, err := resolveHost(defaultHostEnv())
	if err != nil {
		return nil, model.WrapCLIError(model.ExitDockerNotRunning, "Docker daemon not found", err)
	}

	inner, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to create Docker client for host %q", host),
			err,
		)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if _, err := inner.Ping(pingCtx); err != nil {
		_ = inner.Close()
		return nil, model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("Docker daemon at %s is not responding (is Docker running?)", host),
			err,
		)
	}

	slog.Debug("Connected to Docker daemon", "host", host)
	return &Client{inner: inner, host: host}, nil
}

// hostCandidates lists the daemon addresses tried on goos, most common
// first.
func hostCandidates(goos, home string) []string {
	switch goos {
	case "linux":
		return []string{"unix:///var/run/docker.sock"}
	case "darwin":
		hosts := []string{"unix:///var/run/docker.sock"}
		if home != "" {
			// Newer Docker Desktop releases only create the per-user socket.
			hosts = append(hosts, "unix://"+home+"/.docker/run/docker.sock")
		}
		return hosts
	case "windows":
		return []string{"npipe:////./pipe/docker_engine"}
	default:
		return nil
	}
}

func resolveHost(env hostEnv) (string, error) {
	if host := env.getenv("DOCKER_HOST"); host != "" {
		return host, nil
	}

	candidates := hostCandidates(env.goos, env.home)
	if len(candidates) == 0 {
		return "", fmt.Errorf("unsupported platform %s and DOCKER_HOST is not set", env.goos)
	}
	for _, host := range candidates {
		if env.probe(host) {
			return host, nil
		}
	}
	return "", fmt.Errorf("no Docker socket at any of %s (is Docker running?)", strings.Join(candidates, ", "))
}

// probeHost reports whether a daemon address looks usable. Unix sockets
// only need to exist; named pipes cannot be stat'ed, so they are dialed.
func probeHost(host string) bool {
	switch {
	case strings.HasPrefix(host, "unix://"):
		_, err := os.Stat(strings.TrimPrefix(host, "unix://"))
		return err == nil
	case strings.HasPrefix(host, "npipe://"):
		conn, err := net.DialTimeout("pipe", strings.TrimPrefix(host, "npipe://"), time.Second)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	default:
		return false
	}
}

// Host returns the daemon address in use.
func (c *Client) Host() string {
	return c.host
}

// Images returns the image API of the connected daemon.
func (c *Client) Images() ImageAPI {
	return c.inner
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.inner.Close()
}
