package mpi_test

import (
	"testing"

	"github.com/danmuck/groupcomm/internal/testutil/testlog"
	"github.com/danmuck/groupcomm/mpi"
	"github.com/danmuck/groupcomm/mpi/runtime/local"
	"github.com/stretchr/testify/require"
)

func noEnv(string) string { return "" }

// The process default can only be used once, so its whole lifecycle lives in
// one test.
func TestDefaultEnvLifecycle(t *testing.T) {
	testlog.Start(t)

	_, err := mpi.World()
	require.ErrorIs(t, err, mpi.ErrInitialization)

	env, err := mpi.Init(nil, mpi.WithGetenv(noEnv))
	require.NoError(t, err)
	require.True(t, env.Initialized())

	got, ok := mpi.Default()
	require.True(t, ok)
	require.Same(t, env, got)

	_, err = mpi.Init(nil, mpi.WithGetenv(noEnv))
	require.ErrorIs(t, err, mpi.ErrInitialization)

	world, err := mpi.World()
	require.NoError(t, err)
	require.Equal(t, 0, world.Rank())
	require.Equal(t, 1, world.Size())
	require.True(t, world.IsMaster())

	sum, err := mpi.AllSum(world, 41.5)
	require.NoError(t, err)
	require.Equal(t, 41.5, sum)
	require.NoError(t, mpi.Send(world, uint8(7), 0, 3))
	v, err := mpi.Recv[uint8](world, mpi.AnySource, mpi.AnyTag)
	require.NoError(t, err)
	require.Equal(t, uint8(7), v)

	err = env.Finalize()
	require.ErrorIs(t, err, mpi.ErrInitialization)
	require.True(t, env.Initialized())

	require.NoError(t, world.Close())
	require.NoError(t, env.Finalize())
	require.True(t, env.Finalized())
	require.False(t, env.Initialized())

	_, ok = mpi.Default()
	require.False(t, ok)
	require.ErrorIs(t, env.Finalize(), mpi.ErrInitialization)

	_, err = mpi.Init(nil, mpi.WithGetenv(noEnv))
	require.ErrorIs(t, err, mpi.ErrInitialization)
	_, err = mpi.NewComm(env)
	require.ErrorIs(t, err, mpi.ErrInitialization)
}

func TestNewCommWithoutEnv(t *testing.T) {
	_, err := mpi.NewComm(nil)
	require.ErrorIs(t, err, mpi.ErrInitialization)
}

func TestInitRejectsReusedRuntime(t *testing.T) {
	testlog.Start(t)
	rt := local.Self()
	env, err := mpi.Init(nil, mpi.WithRuntime(rt))
	require.NoError(t, err)

	_, err = mpi.Init(nil, mpi.WithRuntime(rt))
	require.ErrorIs(t, err, mpi.ErrInitialization)

	require.NoError(t, env.Finalize())
	_, err = mpi.Init(nil, mpi.WithRuntime(rt))
	require.ErrorIs(t, err, mpi.ErrInitialization)
}

func TestInitRejectsBadGroupEnvironment(t *testing.T) {
	getenv := func(k string) string {
		if k == "GROUPCOMM_SIZE" {
			return "three"
		}
		return ""
	}
	_, err := mpi.Init(nil, mpi.WithGetenv(getenv))
	require.ErrorIs(t, err, mpi.ErrInitialization)
}
