package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

const catalogBody = `
strategies:
  supertrend:
    name: Supertrend
    intervals: ["5MINUTE", "15MINUTE"]
  orb:
    id: ORB
    name: Opening Range Breakout
    intervals: ["1MINUTE"]
  anyiv:
    name: Any Interval
`

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestCatalogLoad(t *testing.T) {
	c, err := NewCatalog(writeCatalog(t, catalogBody))
	assert.NoError(t, err)

	assert.Equal(t, []string{"anyiv", "orb", "supertrend"}, c.IDs())

	def, ok := c.Strategy("Supertrend")
	assert.True(t, ok)
	assert.Equal(t, "supertrend", def.ID)
	assert.Equal(t, "Supertrend", def.Name)

	// Explicit id wins over the map key and is normalized.
	def, ok = c.Strategy("orb")
	assert.True(t, ok)
	assert.Equal(t, "orb", def.ID)
}

func TestCatalogValidate(t *testing.T) {
	c, err := NewCatalog(writeCatalog(t, catalogBody))
	assert.NoError(t, err)

	assert.NoError(t, c.Validate("supertrend", "5MINUTE"))
	assert.NoError(t, c.Validate("supertrend", "5minute"), "interval compare is case-insensitive")
	assert.Error(t, c.Validate("supertrend", "1DAY"))
	assert.Error(t, c.Validate("missing", "5MINUTE"))

	// Empty interval list means anything goes.
	assert.NoError(t, c.Validate("anyiv", "73MINUTE"))
}

func TestCatalogRejectsUnknownFields(t *testing.T) {
	path := writeCatalog(t, `
strategies:
  x:
    name: X
    surprise_field: boom
`)
	_, err := NewCatalog(path)
	assert.Error(t, err)
}

func TestCatalogSnapshotIsACopy(t *testing.T) {
	c, err := NewCatalog(writeCatalog(t, catalogBody))
	assert.NoError(t, err)

	snap := c.Snapshot()
	assert.EqualValues(t, 1, snap.Version)
	snap.Strategies["supertrend"] = StrategyDef{ID: "mutated"}

	def, _ := c.Strategy("supertrend")
	assert.Equal(t, "supertrend", def.ID)
}

func TestNewCatalogRequiresPath(t *testing.T) {
	_, err := NewCatalog("")
	assert.Error(t, err)
	_, err = NewCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
