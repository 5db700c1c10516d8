package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agora/internal/domain"
)

func TestMonitorSweepsStatuses(t *testing.T) {
	gen := &fakeGen{healthy: map[string]bool{"http://perry": true}}
	orch := newTestOrchestrator(t, gen, nil, fastOptions())

	m := NewMonitor(orch, 10*time.Millisecond, time.Second, testLogger())
	require.NoError(t, m.Start())
	defer m.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		statuses := orch.Statuses()
		if statuses["Perry"] == domain.StatusOK && statuses["Netty"] == domain.StatusDown {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("statuses never converged: %v", orch.Statuses())
}

func TestMonitorStartTwice(t *testing.T) {
	orch := newTestOrchestrator(t, &fakeGen{}, nil, fastOptions())
	m := NewMonitor(orch, time.Minute, time.Second, testLogger())
	require.NoError(t, m.Start())
	defer m.Stop()
	assert.Error(t, m.Start())
}

func TestMonitorRejectsNonPositiveInterval(t *testing.T) {
	orch := newTestOrchestrator(t, &fakeGen{}, nil, fastOptions())
	m := NewMonitor(orch, 0, time.Second, testLogger())
	assert.Error(t, m.Start())
}

func TestMonitorStopIdempotent(t *testing.T) {
	orch := newTestOrchestrator(t, &fakeGen{}, nil, fastOptions())
	m := NewMonitor(orch, time.Minute, time.Second, testLogger())
	require.NoError(t, m.Start())
	m.Stop()
	m.Stop()
}
