package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetguard/internal/docker/dockertest"
	"fleetguard/internal/models"
)

func TestRemoveProtectedServiceRequiresForce(t *testing.T) {
	rt := dockertest.New().Add(models.Container{ID: "gw1", Name: "edge-gateway-1", State: models.StateExited})
	c := newTestController(t, rt)

	res, err := c.Remove(context.Background(), "gw1", RemoveOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Contains(t, res.Message, "protected")
	assert.Empty(t, rt.CallsFor("remove"))

	res, err = c.Remove(context.Background(), "gw1", RemoveOptions{Force: true})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"gw1"}, rt.CallsFor("remove"))
}

func TestRemoveRunningRequiresStopFirst(t *testing.T) {
	rt := dockertest.New().Add(models.Container{ID: "w1", Name: "worker"})
	c := newTestController(t, rt)

	res, err := c.Remove(context.Background(), "w1", RemoveOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Contains(t, res.Message, "stop it first")
	assert.Empty(t, rt.CallsFor("remove"))
}

func TestRemoveStoppedContainer(t *testing.T) {
	rt := dockertest.New().Add(models.Container{ID: "w1", Name: "worker", State: models.StateExited})
	c := newTestController(t, rt)

	res, err := c.Remove(context.Background(), "w1", RemoveOptions{RemoveVolumes: true})
	require.NoError(t, err)
	assert.True(t, res.Success)
	_, exists := rt.Container("w1")
	assert.False(t, exists)
}

func TestPruneVolumesDefaultsToDryRun(t *testing.T) {
	rt := dockertest.New().
		AddVolume(models.Volume{Name: "orphan"}, 2048, 0).
		AddVolume(models.Volume{Name: "in-use"}, 4096, 1)
	c := newTestController(t, rt)

	rep := c.PruneVolumes(context.Background(), PruneOptions{})
	assert.True(t, rep.DryRun)
	require.Len(t, rep.Candidates, 1)
	assert.Equal(t, "orphan", rep.Candidates[0].Name)
	assert.Equal(t, int64(2048), rep.Reclaimable)
	assert.Empty(t, rt.CallsFor("remove-volume"))

	rep = c.PruneVolumes(context.Background(), PruneOptions{Apply: true})
	assert.False(t, rep.DryRun)
	assert.Equal(t, 1, rep.Removed)
	assert.Equal(t, []string{"in-use"}, rt.Volumes())
}

func TestPruneContainersCollectsItemFailures(t *testing.T) {
	rt := dockertest.New().
		Add(models.Container{ID: "run", Name: "run"}).
		Add(models.Container{ID: "old1", Name: "old1", State: models.StateExited}).
		Add(models.Container{ID: "new1", Name: "new1", State: models.StateCreated})
	rt.SetSize("old1", 100)
	rt.SetSize("new1", 50)
	rt.Fail("remove", "new1", errors.New("busy"))
	c := newTestController(t, rt)

	rep := c.PruneContainers(context.Background(), PruneOptions{})
	assert.Len(t, rep.Candidates, 2)
	assert.Equal(t, int64(150), rep.Reclaimable)
	assert.Empty(t, rt.CallsFor("remove"))

	rep = c.PruneContainers(context.Background(), PruneOptions{Apply: true})
	assert.Equal(t, 1, rep.Removed)
	assert.Equal(t, 1, rep.Failed)
	assert.False(t, rep.Success)
	assert.Equal(t, []string{"old1", "new1"}, rt.CallsFor("remove"))
}
