// Package runtime adapts the Docker engine API to instance lifecycle
// operations. Container naming is deterministic: a fixed prefix plus the
// instance name, never an arbitrary id.
package runtime

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"strconv"
	"strings"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/network"
	"github.com/moby/moby/client"

	"github.com/yamori310/craftdock/domain"
)

const (
	// ContainerPrefix namespaces every container this daemon manages.
	ContainerPrefix = "craftdock"

	labelManaged = "craftdock.managed"
	labelName    = "craftdock.name"

	// gamePortInContainer and rconPortInContainer are fixed by the server
	// image; host ports are taken from the instance configuration.
	gamePortInContainer = "25565/tcp"
	rconPortInContainer = "25575/tcp"

	stopTimeoutSeconds = 30
)

// ContainerName derives the container name for an instance.
func ContainerName(instance string) string {
	return fmt.Sprintf("%s-%s", ContainerPrefix, instance)
}

// Status is the runtime's live view of a container. It is fetched per
// operation and never cached.
type Status int

const (
	StatusAbsent Status = iota
	StatusStopped
	StatusRunning
)

type Docker struct {
	cli *client.Client
}

func New() (*Docker, error) {
	cli, err := client.New(client.FromEnv, client.WithAPIVersionFromEnv())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Docker{cli: cli}, nil
}

func (d *Docker) Close() error {
	return d.cli.Close()
}

// FindByName looks up the container for an instance name. An absent
// container is a normal outcome, not an error.
func (d *Docker) FindByName(ctx context.Context, instance string) (id string, found bool, err error) {
	resp, err := d.cli.ContainerInspect(ctx, ContainerName(instance), client.ContainerInspectOptions{})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to inspect container: %w", err)
	}
	return resp.Container.ID, true, nil
}

// Create pulls the image if needed and creates the container for cfg with
// its data directory bind-mounted at /data. onPull receives human-readable
// pull progress lines; it may be nil.
func (d *Docker) Create(ctx context.Context, cfg *domain.InstanceConfig, dataDir string, onPull func(string)) (string, error) {
	if err := d.pullImage(ctx, cfg.Image(), onPull); err != nil {
		return "", err
	}

	gamePort, _ := network.ParsePort(gamePortInContainer)
	rconPort, _ := network.ParsePort(rconPortInContainer)

	hostConfig := &container.HostConfig{
		PortBindings: network.PortMap{
			gamePort: []network.PortBinding{{
				HostIP:   netip.MustParseAddr("0.0.0.0"),
				HostPort: strconv.Itoa(cfg.Port),
			}},
			rconPort: []network.PortBinding{{
				HostIP:   netip.MustParseAddr("0.0.0.0"),
				HostPort: strconv.Itoa(cfg.RconPort()),
			}},
		},
		Binds: []string{fmt.Sprintf("%s:/data", dataDir)},
		Resources: container.Resources{
			Memory: cfg.MemoryMB * 1024 * 1024,
		},
	}

	containerConfig := &container.Config{
		Image: cfg.Image(),
		Env:   cfg.EnvVars(),
		Labels: map[string]string{
			labelManaged: "true",
			labelName:    cfg.Name,
		},
		ExposedPorts: network.PortSet{
			gamePort: struct{}{},
			rconPort: struct{}{},
		},
	}

	resp, err := d.cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:           containerConfig,
		HostConfig:       hostConfig,
		NetworkingConfig: &network.NetworkingConfig{},
		Name:             ContainerName(cfg.Name),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	slog.Info("container created",
		slog.String("instance", cfg.Name), slog.String("container_id", resp.ID))
	return resp.ID, nil
}

func (d *Docker) Start(ctx context.Context, id string) error {
	if _, err := d.cli.ContainerStart(ctx, id, client.ContainerStartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	return nil
}

// Stop stops the container, giving the server time to flush its world.
// Stopping an absent or already-stopped container succeeds.
func (d *Docker) Stop(ctx context.Context, id string) error {
	timeout := stopTimeoutSeconds
	_, err := d.cli.ContainerStop(ctx, id, client.ContainerStopOptions{Timeout: &timeout})
	if err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

// Remove force-removes the container. Removing an absent container succeeds.
func (d *Docker) Remove(ctx context.Context, id string) error {
	_, err := d.cli.ContainerRemove(ctx, id, client.ContainerRemoveOptions{Force: true})
	if err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// Inspect returns the container's live state.
func (d *Docker) Inspect(ctx context.Context, id string) (Status, error) {
	resp, err := d.cli.ContainerInspect(ctx, id, client.ContainerInspectOptions{})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return StatusAbsent, nil
		}
		return StatusAbsent, fmt.Errorf("failed to inspect container: %w", err)
	}
	if resp.Container.State != nil && resp.Container.State.Running {
		return StatusRunning, nil
	}
	return StatusStopped, nil
}

// Logs fetches the last maxLines lines of container output.
func (d *Docker) Logs(ctx context.Context, id string, maxLines int) ([]string, error) {
	reader, err := d.cli.ContainerLogs(ctx, id, client.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(maxLines),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get container logs: %w", err)
	}
	defer reader.Close()

	text, err := demuxLogStream(reader)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}
	return lines, nil
}

// demuxLogStream strips the 8-byte multiplexing headers the engine prepends
// to each log frame (stream type, 3 zero bytes, big-endian payload length).
func demuxLogStream(r io.Reader) (string, error) {
	var sb strings.Builder
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return "", fmt.Errorf("failed to read logs: %w", err)
		}
		size := binary.BigEndian.Uint32(header[4:8])
		if _, err := io.CopyN(&sb, r, int64(size)); err != nil {
			if err == io.EOF {
				break
			}
			return "", fmt.Errorf("failed to read logs: %w", err)
		}
	}
	return sb.String(), nil
}

func (d *Docker) pullImage(ctx context.Context, imageName string, onPull func(string)) error {
	reader, err := d.cli.ImagePull(ctx, imageName, client.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	var lastStatus string
	for {
		var message struct {
			Status   string `json:"status,omitempty"`
			Progress string `json:"progress,omitempty"`
			Error    string `json:"error,omitempty"`
		}

		if err := decoder.Decode(&message); err == io.EOF {
			break
		} else if err != nil {
			return fmt.Errorf("failed to decode pull output: %w", err)
		}

		if message.Error != "" {
			return fmt.Errorf("pull error: %s", message.Error)
		}

		// Skip per-layer progress spam and duplicate statuses.
		if message.Status != "" && message.Progress == "" && message.Status != lastStatus {
			lastStatus = message.Status
			if onPull != nil {
				onPull(message.Status)
			}
		}
	}

	return nil
}
