package funchash_test

import (
	"testing"

	"github.com/neuro-ml/connectome/pkg/funchash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type contentID string

func (c contentID) ContentID() string { return string(c) }

func TestGlobalModeIsDefault(t *testing.T) {
	reg := funchash.NewRegistry()
	h1, err := funchash.Hash(reg, "mypkg.Foo", "mypkg", nil)
	require.NoError(t, err)
	h2, err := funchash.Hash(reg, "mypkg.Foo", "mypkg", nil)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestUnstableNameRequiresContentID(t *testing.T) {
	reg := funchash.NewRegistry()
	reg.MarkUnstable("mypkg.Flaky")
	_, err := funchash.Hash(reg, "mypkg.Flaky", "mypkg", nil)
	require.Error(t, err)

	h, err := funchash.Hash(reg, "mypkg.Flaky", "mypkg", contentID("v1"))
	require.NoError(t, err)
	h2, err := funchash.Hash(reg, "mypkg.Flaky", "mypkg", contentID("v2"))
	require.NoError(t, err)
	assert.NotEqual(t, h, h2)
}

func TestUnstableModulePropagatesToSubpackages(t *testing.T) {
	reg := funchash.NewRegistry()
	reg.MarkModuleUnstable("mypkg.experimental")
	_, err := funchash.Hash(reg, "mypkg.experimental.sub.Func", "mypkg.experimental.sub", nil)
	require.Error(t, err)
}

func TestExplicitStableOverridesUnstableModule(t *testing.T) {
	reg := funchash.NewRegistry()
	reg.MarkModuleUnstable("mypkg.experimental")
	reg.MarkStable("mypkg.experimental.Frozen")
	_, err := funchash.Hash(reg, "mypkg.experimental.Frozen", "mypkg.experimental", nil)
	require.NoError(t, err)
}

func TestUnderDevelopmentModuleRejectsImplicitGlobal(t *testing.T) {
	reg := funchash.NewRegistry()
	reg.MarkModuleUnderDevelopment("mypkg")
	_, err := funchash.Hash(reg, "mypkg.sub.Func", "mypkg.sub", nil)
	require.Error(t, err)

	reg.MarkModuleUnstable("mypkg")
	_, err = funchash.Hash(reg, "mypkg.sub.Func", "mypkg.sub", contentID("x"))
	require.NoError(t, err)
}
