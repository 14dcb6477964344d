// Package container starts the Selenium Grid and any application containers
// a suite declares, in dependency order on a shared network.
package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tomatool/driverpool/internal/config"
	"github.com/tomatool/driverpool/internal/runlog"
)

// ErrNotFound is returned for containers the manager has not started.
var ErrNotFound = errors.New("container not found")

// CheckDockerAvailable verifies that the Docker daemon is running and accessible
func CheckDockerAvailable() error {
	if err := exec.Command("docker", "info").Run(); err != nil {
		return &DockerNotRunningError{}
	}
	return nil
}

// DockerNotRunningError carries per-OS instructions for starting Docker
type DockerNotRunningError struct{}

func (e *DockerNotRunningError) Error() string {
	switch runtime.GOOS {
	case "darwin":
		return `Docker is not running. To fix this:

  1. Open Docker Desktop application
  2. Wait for Docker to start (whale icon in menu bar stops animating)
  3. Run driverpool again

  Or run the grid elsewhere and set remote.execution=true with grid.url`

	case "linux":
		return `Docker is not running. To fix this:

  1. Start Docker daemon:
       sudo systemctl start docker

  2. Make sure your user is in the docker group:
       sudo usermod -aG docker $USER
       (log out and back in after this)

  3. Run driverpool again, or pass --no-grid to use an existing grid`

	default:
		return `Docker is not running. Start Docker or pass --no-grid to use an existing grid.`
	}
}

// Manager handles the lifecycle of suite containers
type Manager struct {
	configs     map[string]config.Container
	containers  map[string]testcontainers.Container
	order       []string // startup order based on dependencies
	mu          sync.RWMutex
	runCtx      *runlog.RunContext
	logFiles    map[string]*os.File
	network     *testcontainers.DockerNetwork
	networkName string
}

// NewManager creates a new container manager
func NewManager(configs map[string]config.Container) (*Manager, error) {
	m := &Manager{
		configs:     configs,
		containers:  make(map[string]testcontainers.Container),
		logFiles:    make(map[string]*os.File),
		networkName: fmt.Sprintf("driverpool-%s", uuid.New().String()[:8]),
	}

	order, err := m.calculateStartOrder()
	if err != nil {
		return nil, fmt.Errorf("calculating start order: %w", err)
	}
	m.order = order

	return m, nil
}

// SetRunContext enables container log capture into the run directory
func (m *Manager) SetRunContext(ctx *runlog.RunContext) {
	m.runCtx = ctx
}

// Order returns the container names in startup order
func (m *Manager) Order() []string {
	return append([]string(nil), m.order...)
}

// CreateNetwork creates the shared Docker network for all containers
func (m *Manager) CreateNetwork(ctx context.Context) error {
	if m.network != nil {
		return nil
	}

	net, err := network.New(ctx, network.WithCheckDuplicate(), network.WithDriver("bridge"))
	if err != nil {
		return fmt.Errorf("creating network: %w", err)
	}

	m.network = net
	m.networkName = net.Name

	log.Debug().Str("network", m.networkName).Msg("docker network created")
	return nil
}

// NetworkName returns the shared network name
func (m *Manager) NetworkName() string {
	return m.networkName
}

// InternalAddress returns the address other containers on the network use to
// reach name. Application containers reach the grid's browsers this way.
func (m *Manager) InternalAddress(name, port string) string {
	if idx := strings.Index(port, "/"); idx > 0 {
		port = port[:idx]
	}
	return fmt.Sprintf("%s:%s", name, port)
}

// calculateStartOrder returns containers in dependency order using Kahn's
// algorithm; ties are broken alphabetically.
func (m *Manager) calculateStartOrder() ([]string, error) {
	inDegree := make(map[string]int)
	dependents := make(map[string][]string)

	for name := range m.configs {
		inDegree[name] = 0
	}

	for name, cfg := range m.configs {
		for _, dep := range cfg.DependsOn {
			inDegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var queue []string
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	order := []string{}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		order = append(order, name)

		for _, dep := range dependents[name] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
				sort.Strings(queue)
			}
		}
	}

	if len(order) != len(m.configs) {
		return nil, fmt.Errorf("circular dependency detected in container configuration")
	}

	return order, nil
}

// StartAll starts all containers in dependency order
func (m *Manager) StartAll(ctx context.Context) error {
	if len(m.order) == 0 {
		return nil
	}

	if err := m.CreateNetwork(ctx); err != nil {
		return err
	}

	for _, name := range m.order {
		if err := m.Start(ctx, name); err != nil {
			return fmt.Errorf("starting container %s: %w", name, err)
		}
	}
	return nil
}

// Start starts a single container
func (m *Manager) Start(ctx context.Context, name string) error {
	cfg, ok := m.configs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	req, err := m.buildRequest(name, cfg)
	if err != nil {
		return err
	}

	log.Debug().Str("container", name).Str("image", cfg.Image).Msg("starting container")
	startTime := time.Now()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return fmt.Errorf("creating container: %w", err)
	}

	m.mu.Lock()
	m.containers[name] = c
	m.mu.Unlock()

	log.Info().
		Str("container", name).
		Dur("duration", time.Since(startTime)).
		Msg("container ready")

	if m.runCtx != nil {
		m.captureContainerLogs(ctx, name, c)
	}

	return nil
}

func (m *Manager) buildRequest(name string, cfg config.Container) (testcontainers.ContainerRequest, error) {
	req := testcontainers.ContainerRequest{
		Image:        cfg.Image,
		Env:          cfg.Env,
		ExposedPorts: append([]string(nil), cfg.Ports...),
		WaitingFor:   m.buildWaitStrategy(cfg.WaitFor),
	}

	shm, err := cfg.ShmBytes()
	if err != nil {
		return req, fmt.Errorf("container %s: invalid shm_size: %w", name, err)
	}
	if shm > 0 {
		req.HostConfigModifier = func(hc *dockercontainer.HostConfig) {
			hc.ShmSize = shm
		}
	}

	if m.network != nil {
		req.Networks = []string{m.networkName}
		req.NetworkAliases = map[string][]string{
			m.networkName: {name},
		}
	}
	return req, nil
}

// captureContainerLogs streams container logs to a file in the run directory
func (m *Manager) captureContainerLogs(ctx context.Context, name string, c testcontainers.Container) {
	logFile, err := m.runCtx.CreateLogFile("container-" + name)
	if err != nil {
		log.Warn().Err(err).Str("container", name).Msg("failed to create container log file")
		return
	}

	m.mu.Lock()
	m.logFiles[name] = logFile
	m.mu.Unlock()

	logs, err := c.Logs(ctx)
	if err != nil {
		log.Warn().Err(err).Str("container", name).Msg("failed to get container logs")
		return
	}

	go func() {
		defer logs.Close()
		if _, err := io.Copy(logFile, logs); err != nil {
			log.Debug().Err(err).Str("container", name).Msg("container log stream ended")
		}
	}()
}

// buildWaitStrategy converts a config wait strategy to a testcontainers one
func (m *Manager) buildWaitStrategy(ws config.WaitStrategy) wait.Strategy {
	timeout := ws.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	switch ws.Type {
	case "port":
		return wait.ForListeningPort(nat.Port(ws.Target)).WithStartupTimeout(timeout)
	case "log":
		return wait.ForLog(ws.Target).WithStartupTimeout(timeout)
	case "http":
		strategy := wait.ForHTTP(ws.Path).WithPort(nat.Port(ws.Target)).WithStartupTimeout(timeout)
		if ws.Method != "" {
			strategy = strategy.WithMethod(ws.Method)
		}
		return strategy
	case "exec":
		return wait.ForExec([]string{"sh", "-c", ws.Target}).WithStartupTimeout(timeout)
	default:
		return wait.ForLog("").WithStartupTimeout(timeout)
	}
}

// Get returns a running container by name
func (m *Manager) Get(name string) (testcontainers.Container, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.containers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return c, nil
}

// HostPort returns the host address and mapped port for a container port
func (m *Manager) HostPort(ctx context.Context, name, port string) (string, string, error) {
	c, err := m.Get(name)
	if err != nil {
		return "", "", err
	}
	host, err := c.Host(ctx)
	if err != nil {
		return "", "", fmt.Errorf("resolving host of %s: %w", name, err)
	}
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	if err != nil {
		return "", "", fmt.Errorf("resolving port %s of %s: %w", port, name, err)
	}
	return host, mapped.Port(), nil
}

// Endpoint returns the http URL reaching port of the named container from the
// host, with path appended. It is how a managed grid feeds grid.url.
func (m *Manager) Endpoint(ctx context.Context, name, port, path string) (*url.URL, error) {
	host, mapped, err := m.HostPort(ctx, name, port)
	if err != nil {
		return nil, err
	}
	u := &url.URL{Scheme: "http", Host: host + ":" + mapped}
	if path != "" {
		u = u.JoinPath(path)
	}
	return u, nil
}

// StopAll terminates all containers in reverse startup order
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.order) - 1; i >= 0; i-- {
		name := m.order[i]
		c, ok := m.containers[name]
		if !ok {
			continue
		}
		log.Debug().Str("container", name).Msg("stopping container")
		if err := c.Terminate(ctx); err != nil {
			log.Warn().Err(err).Str("container", name).Msg("failed to stop container")
		}
		delete(m.containers, name)
	}
}

// Cleanup stops all containers and removes the shared network
func (m *Manager) Cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	m.mu.Lock()
	for _, f := range m.logFiles {
		f.Close()
	}
	m.logFiles = make(map[string]*os.File)
	m.mu.Unlock()

	m.StopAll(ctx)

	if m.network != nil {
		if err := m.network.Remove(ctx); err != nil {
			log.Warn().Err(err).Str("network", m.networkName).Msg("failed to remove network")
		}
		m.network = nil
	}
}

// PrintConnectionInfo writes the host port mappings of every container
func (m *Manager) PrintConnectionInfo(ctx context.Context, w io.Writer) {
	fmt.Fprintln(w, "\nContainer connection info:")
	fmt.Fprintln(w, "─────────────────────────────────────────")

	for _, name := range m.order {
		c, err := m.Get(name)
		if err != nil {
			continue
		}

		host, _ := c.Host(ctx)
		ports, _ := c.Ports(ctx)

		keys := make([]string, 0, len(ports))
		for p := range ports {
			keys = append(keys, string(p))
		}
		sort.Strings(keys)

		fmt.Fprintf(w, "  %s:\n", name)
		for _, k := range keys {
			bindings := ports[nat.Port(k)]
			if len(bindings) > 0 {
				fmt.Fprintf(w, "    %s → %s:%s\n", nat.Port(k).Port(), host, bindings[0].HostPort)
			}
		}
	}
	fmt.Fprintln(w)
}

// Exec runs a command in a container and returns its exit code and output
func (m *Manager) Exec(ctx context.Context, name string, cmd []string) (int, string, error) {
	c, err := m.Get(name)
	if err != nil {
		return 0, "", err
	}

	exitCode, reader, err := c.Exec(ctx, cmd)
	if err != nil {
		return 0, "", err
	}

	var output []byte
	if reader != nil {
		output, err = io.ReadAll(reader)
		if err != nil {
			return exitCode, string(output), fmt.Errorf("reading exec output: %w", err)
		}
	}

	return exitCode, string(output), nil
}
