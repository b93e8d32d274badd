package infra

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/eliteGoblin/kioskd/internal/domain"
)

// mockProcessManager is a test double for ProcessManager
type mockProcessManager struct {
	mu          sync.Mutex
	runningPIDs map[int]bool
	names       map[int]string
	killedPIDs  []int
	killErr     map[int]error
	findErr     error
}

func newMockProcessManager() *mockProcessManager {
	return &mockProcessManager{
		runningPIDs: make(map[int]bool),
		names:       make(map[int]string),
		killErr:     make(map[int]error),
	}
}

func (m *mockProcessManager) FindByName(name string) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	var pids []int
	for pid, n := range m.names {
		if strings.EqualFold(n, name) {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

func (m *mockProcessManager) NameOf(pid int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.names[pid]
	if !ok {
		return "", fmt.Errorf("process %d not found", pid)
	}
	return n, nil
}

func (m *mockProcessManager) Kill(pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.killErr[pid]; err != nil {
		return err
	}
	m.killedPIDs = append(m.killedPIDs, pid)
	delete(m.runningPIDs, pid)
	return nil
}

func (m *mockProcessManager) IsRunning(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runningPIDs[pid]
}

func (m *mockProcessManager) GetCurrentPID() int {
	return os.Getpid()
}

func (m *mockProcessManager) SetRunning(pid int, running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runningPIDs[pid] = running
}

func (m *mockProcessManager) AddProcess(pid int, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names[pid] = name
	m.runningPIDs[pid] = true
}

// mockCommandRunner records commands and returns canned output.
type mockCommandRunner struct {
	mu       sync.Mutex
	commands []string
	outputs  map[string][]byte
	errs     map[string]error
	paths    map[string]bool
	started  []*mockProcess
}

func newMockCommandRunner() *mockCommandRunner {
	return &mockCommandRunner{
		outputs: make(map[string][]byte),
		errs:    make(map[string]error),
		paths:   make(map[string]bool),
	}
}

func (m *mockCommandRunner) key(name string, args []string) string {
	return strings.TrimSpace(name + " " + strings.Join(args, " "))
}

func (m *mockCommandRunner) Run(ctx context.Context, name string, args ...string) error {
	_, err := m.Output(ctx, name, args...)
	return err
}

func (m *mockCommandRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(name, args)
	m.commands = append(m.commands, k)
	if err := m.errs[k]; err != nil {
		return nil, err
	}
	return m.outputs[k], nil
}

func (m *mockCommandRunner) Start(name string, args ...string) (Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(name, args)
	m.commands = append(m.commands, k)
	if err := m.errs[k]; err != nil {
		return nil, err
	}
	p := &mockProcess{}
	m.started = append(m.started, p)
	return p, nil
}

func (m *mockCommandRunner) LookPath(name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paths[name] {
		return "/usr/bin/" + name, nil
	}
	return "", errors.New("executable file not found in $PATH")
}

func (m *mockCommandRunner) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

type mockProcess struct {
	mu      sync.Mutex
	stopped bool
}

func (p *mockProcess) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	return nil
}

var _ domain.ProcessManager = (*mockProcessManager)(nil)
var _ CommandRunner = (*mockCommandRunner)(nil)
