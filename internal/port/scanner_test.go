package port

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/urlshield/internal/model"
)

const loopback = "127.0.0.1"

// occupyTCP binds an OS-assigned loopback port for the duration of the test.
func occupyTCP(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", loopback+":0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().(*net.TCPAddr).Port
}

// TestIsPortAvailable_FreePort checks a port found free is reported free.
func TestIsPortAvailable_FreePort(t *testing.T) {
	scanner := NewScanner(loopback)

	freePort, err := scanner.FindAvailablePort(50000, 50100, "tcp")
	require.NoError(t, err, "should find at least one free port in 50000-50100")
	assert.True(t, scanner.IsPortAvailable(freePort, "tcp"))
}

// TestIsPortAvailable_UsedPort checks a bound TCP port is reported busy.
func TestIsPortAvailable_UsedPort(t *testing.T) {
	port := occupyTCP(t)
	assert.False(t, NewScanner(loopback).IsPortAvailable(port, "tcp"))
}

// TestIsPortAvailable_UDP checks a bound UDP port is reported busy.
func TestIsPortAvailable_UDP(t *testing.T) {
	conn, err := net.ListenPacket("udp", loopback+":0")
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	port := conn.LocalAddr().(*net.UDPAddr).Port
	assert.False(t, NewScanner(loopback).IsPortAvailable(port, "udp"))
}

// TestIsPortAvailable_Invalid covers unknown protocols and bad ports.
func TestIsPortAvailable_Invalid(t *testing.T) {
	scanner := NewScanner(loopback)
	assert.False(t, scanner.IsPortAvailable(50000, "sctp"))
	assert.False(t, scanner.IsPortAvailable(0, "tcp"))
	assert.False(t, scanner.IsPortAvailable(70000, "tcp"))
}

// TestFindAvailablePort_NoneAvailable occupies a small range and expects an
// error.
func TestFindAvailablePort_NoneAvailable(t *testing.T) {
	scanner := NewScanner(loopback)

	base, err := scanner.FindAvailablePort(51000, 51100, "tcp")
	require.NoError(t, err)

	end := base
	for i := 0; i < 3; i++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", loopback, base+i))
		if err != nil {
			if i == 0 {
				t.Skip("could not bind base port, skipping")
			}
			break
		}
		t.Cleanup(func() { _ = ln.Close() })
		end = base + i
	}

	_, err = scanner.FindAvailablePort(base, end, "tcp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no available")
}

// TestResolveServePort covers explicit, busy and automatic ports.
func TestResolveServePort(t *testing.T) {
	scanner := NewScanner(loopback)

	busy := occupyTCP(t)
	_, err := scanner.ResolveServePort(busy)
	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitPortUnavailable, cliErr.Code)

	free, err := scanner.FindAvailablePort(52000, 52100, "tcp")
	require.NoError(t, err)
	got, err := scanner.ResolveServePort(free)
	require.NoError(t, err)
	assert.Equal(t, free, got)

	auto, err := scanner.ResolveServePort(0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, auto, model.DefaultPort)
}
