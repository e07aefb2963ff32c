package docker

import (
	"errors"
	"fmt"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/devserve/internal/model"
)

// makeTestContainer is a helper that creates a Docker API container with the
// given name, image, labels, and published port bindings. This avoids
// repetitive struct construction across test cases.
func makeTestContainer(id, name, image string, labels map[string]string, ports []types.Port) types.Container {
	return types.Container{
		ID:     id,
		Names:  []string{"/" + name},
		Image:  image,
		Labels: labels,
		Ports:  ports,
	}
}

// TestPortHolder_PublishedPort verifies that a container publishing the
// target port on the host is converted into a container PortOwner with the
// leading "/" stripped from its name.
func TestPortHolder_PublishedPort(t *testing.T) {
	c := makeTestContainer("abc123", "backend-app-1", "backend:dev", nil, []types.Port{
		{PrivatePort: 8000, PublicPort: 8000, Type: "tcp"},
	})

	owner, ok := portHolder(c, 8000)
	require.True(t, ok)
	assert.Equal(t, model.OwnerContainer, owner.Kind)
	assert.Equal(t, 8000, owner.Port)
	assert.Equal(t, "abc123", owner.ContainerID)
	assert.Equal(t, "backend-app-1", owner.ContainerName)
	assert.Equal(t, "backend:dev", owner.Image)
}

// TestPortHolder_ShiftedHostPort verifies matching against the PUBLIC
// (host-side) port, not the container-internal one. A container mapping
// host 8000 to container 80 holds host port 8000.
func TestPortHolder_ShiftedHostPort(t *testing.T) {
	c := makeTestContainer("def456", "web", "nginx:alpine", nil, []types.Port{
		{PrivatePort: 80, PublicPort: 8000, Type: "tcp"},
	})

	owner, ok := portHolder(c, 8000)
	require.True(t, ok)
	assert.Equal(t, "def456", owner.ContainerID)

	// The container port must not be treated as a host-side hold.
	_, ok = portHolder(c, 80)
	assert.False(t, ok, "container-internal port is not a host port hold")
}

// TestPortHolder_NoMatch covers the cases where a container must NOT be
// reported as a port holder.
func TestPortHolder_NoMatch(t *testing.T) {
	tests := []struct {
		name  string
		ports []types.Port
	}{
		{
			name:  "different host port",
			ports: []types.Port{{PrivatePort: 8000, PublicPort: 9000, Type: "tcp"}},
		},
		{
			name: "exposed but not published",
			// PublicPort 0 = EXPOSE without -p; nothing is bound on the host.
			ports: []types.Port{{PrivatePort: 8000, PublicPort: 0, Type: "tcp"}},
		},
		{
			name:  "udp binding on the same number",
			ports: []types.Port{{PrivatePort: 8000, PublicPort: 8000, Type: "udp"}},
		},
		{
			name:  "no ports at all",
			ports: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := makeTestContainer("id", "name", "img", nil, tt.ports)
			_, ok := portHolder(c, 8000)
			assert.False(t, ok)
		})
	}
}

// TestPortHolder_ComposeServiceName verifies that the Compose service label,
// when present, replaces the generated container name in the owner.
func TestPortHolder_ComposeServiceName(t *testing.T) {
	labels := map[string]string{composeServiceLabel: "app"}
	c := makeTestContainer("ghi789", "project-app-1", "backend:dev", labels, []types.Port{
		{PrivatePort: 8000, PublicPort: 8000, Type: "tcp"},
	})

	owner, ok := portHolder(c, 8000)
	require.True(t, ok)
	assert.Equal(t, "app", owner.ContainerName, "compose service name should win over the container name")
}

// TestDetectUnixSocket_NotFound verifies that socket detection fails cleanly
// when no candidate path exists, and that NewClient's wrapping of that
// failure is classifiable with errors.Is — which is what lets the reconciler
// degrade to host-only mode instead of failing.
func TestDetectUnixSocket_NotFound(t *testing.T) {
	_, err := detectUnixSocket([]string{"/nonexistent/docker.sock"})
	require.Error(t, err)

	wrapped := fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	assert.True(t, errors.Is(wrapped, ErrDaemonUnavailable))
}
