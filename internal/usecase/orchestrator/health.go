package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"agora/internal/domain"
)

// Monitor runs a periodic liveness sweep over the registered agents,
// outside the Chat call path.
type Monitor struct {
	cron    *cron.Cron
	orch    *Orchestrator
	every   time.Duration
	timeout time.Duration
	logger  *slog.Logger
	started bool
}

// NewMonitor creates a Monitor that runs CheckAgents every `every`,
// with `timeout` per probe.
func NewMonitor(orch *Orchestrator, every, timeout time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		cron:    cron.New(),
		orch:    orch,
		every:   every,
		timeout: timeout,
		logger:  logger,
	}
}

// Start schedules the sweep and starts the cron runner.
func (m *Monitor) Start() error {
	if m.started {
		return fmt.Errorf("health monitor already started")
	}
	if m.every <= 0 {
		return fmt.Errorf("health monitor interval must be positive")
	}
	m.cron.Schedule(cron.Every(m.every), cron.FuncJob(func() {
		statuses := m.orch.CheckAgents(context.Background(), m.timeout)
		down := 0
		for _, st := range statuses {
			if st != domain.StatusOK {
				down++
			}
		}
		m.logger.Debug("agent health sweep", "agents", len(statuses), "down", down)
	}))
	m.cron.Start()
	m.started = true
	m.logger.Info("health monitor started", "every", m.every)
	return nil
}

// Stop halts the cron runner and waits for a running sweep to finish.
func (m *Monitor) Stop() {
	if !m.started {
		return
	}
	<-m.cron.Stop().Done()
	m.started = false
}
