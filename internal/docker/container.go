// container.go implements container discovery and stopping for the devserve
// reconciler. It answers one question — which running containers publish the
// development port on the host — and provides the graceful stop used to
// release it.
package docker

import (
	"context"
	"fmt"
	"strings"

	// types.Container is the struct returned by ContainerList.
	"github.com/docker/docker/api/types"

	// container package provides ListOptions and StopOptions.
	"github.com/docker/docker/api/types/container"

	"github.com/mmr-tortoise/devserve/internal/model"
)

// composeServiceLabel is the label Docker Compose sets on every container it
// creates. When present, the service name (e.g., "app") is a friendlier
// identifier for operators than the generated container name.
const composeServiceLabel = "com.docker.compose.service"

// ListPortHolders queries the Docker daemon for running containers that
// publish the given host TCP port. These are the container-side equivalents
// of a stray host process: the port appears held on the host (by dockerd's
// proxy), but only stopping the container actually frees it.
//
// Only running containers are considered — a stopped container does not hold
// its published ports.
func ListPortHolders(ctx context.Context, cli *Client, port int) ([]model.PortOwner, error) {
	containers, err := cli.Inner().ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	var owners []model.PortOwner
	for _, c := range containers {
		if owner, ok := portHolder(c, port); ok {
			owners = append(owners, owner)
		}
	}
	return owners, nil
}

// portHolder converts a Docker API container into a PortOwner if any of its
// published port bindings expose the given host TCP port. This is a pure
// mapping function with no side effects, split out for testability.
func portHolder(c types.Container, port int) (model.PortOwner, bool) {
	matched := false
	for _, p := range c.Ports {
		// PublicPort == 0 means the port is exposed but not published to
		// the host; such a container cannot be the holder.
		if p.PublicPort == 0 || int(p.PublicPort) != port {
			continue
		}
		if p.Type != "" && p.Type != "tcp" {
			continue
		}
		matched = true
		break
	}
	if !matched {
		return model.PortOwner{}, false
	}

	// Docker returns container names with a leading "/" prefix
	// (e.g., "/backend-app-1"), which we strip for cleaner display.
	name := ""
	if len(c.Names) > 0 {
		name = strings.TrimPrefix(c.Names[0], "/")
	}

	// Prefer the Compose service name when the container was created by
	// docker compose; it reads better in prompts ("stop container app?").
	if service := c.Labels[composeServiceLabel]; service != "" {
		name = service
	}

	return model.PortOwner{
		Kind:          model.OwnerContainer,
		Port:          port,
		ContainerID:   c.ID,
		ContainerName: name,
		Image:         c.Image,
	}, true
}

// StopContainer gracefully stops a running container by its ID. The daemon
// sends the container's stop signal (SIGTERM by default) and escalates to
// SIGKILL after graceSeconds.
//
// This mirrors the TERM→KILL escalation the proc package applies to host
// processes, so both kinds of port holder get the same shutdown semantics.
func StopContainer(ctx context.Context, cli *Client, containerID string, graceSeconds int) error {
	opts := container.StopOptions{}
	if graceSeconds > 0 {
		opts.Timeout = &graceSeconds
	}

	if err := cli.Inner().ContainerStop(ctx, containerID, opts); err != nil {
		return fmt.Errorf("failed to stop container %q: %w", containerID, err)
	}
	return nil
}
