package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"exchange-sim/internal/repository"
)

// stubRepo implements repository.Repository with only HealthSnapshot
// wired; Checker.Snapshot never calls anything else.
type stubRepo struct {
	repository.Repository
	health repository.Health
}

func (s stubRepo) HealthSnapshot() repository.Health { return s.health }

func TestSnapshotReportsRepositoryHealthAndUptime(t *testing.T) {
	startedAt := time.Now().Add(-5 * time.Second)
	repo := stubRepo{health: repository.Health{Mode: "direct", Connected: true}}
	c := NewChecker(repo, startedAt)

	snap := c.Snapshot()
	assert.Equal(t, "direct", snap.Repository.Mode)
	assert.True(t, snap.Repository.Connected)
	assert.GreaterOrEqual(t, snap.UptimeSecs, 5.0)
	assert.GreaterOrEqual(t, snap.Process.NumGoroutine, 1)
}

func TestSnapshotSurfacesDisconnectedRepository(t *testing.T) {
	repo := stubRepo{health: repository.Health{Mode: "pooler", Connected: false, LastErrorCode: "conn_refused"}}
	c := NewChecker(repo, time.Now())

	snap := c.Snapshot()
	assert.False(t, snap.Repository.Connected)
	assert.Equal(t, "conn_refused", snap.Repository.LastErrorCode)
}
