package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	s := &fakeStrategy{name: "sol-arb", interval: time.Minute}
	require.NoError(t, reg.Register(s))

	got, err := reg.Get("sol-arb")
	require.NoError(t, err)
	assert.Same(t, Strategy(s), got)

	_, err = reg.Get("eth-arb")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestRegistry_RejectsDuplicateNames(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&fakeStrategy{name: "sol-arb"}))

	err := reg.Register(&fakeStrategy{name: "sol-arb"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistry_ListsSortedByName(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&fakeStrategy{name: "zeta"}))
	require.NoError(t, reg.Register(&fakeStrategy{name: "alpha"}))
	require.NoError(t, reg.Register(&fakeStrategy{name: "mid"}))

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, reg.Names())

	list := reg.List()
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].Name())
	assert.Equal(t, "zeta", list[2].Name())
}

func TestRegistry_InfosSnapshotLiveState(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&fakeStrategy{name: "sol-arb"}))

	infos := reg.Infos()
	require.Len(t, infos, 1)
	assert.Equal(t, "sol-arb", infos[0].Name)
	assert.Equal(t, "fake", infos[0].Kind)
	assert.Equal(t, "SOL", infos[0].Symbol)
	assert.Equal(t, domain.StatusIdle, infos[0].Status)
}
