package locations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFoldName(t *testing.T) {
	assert.Equal(t, "sucursal lopez", foldName("Sucursal López"))
	assert.Equal(t, "sucursal lopez", foldName("  SUCURSAL   LÓPEZ "))
	assert.Equal(t, "almacen central", foldName("Almacén Central"))
	assert.Equal(t, "", foldName("   "))
}

func TestResolveByNameExactMatch(t *testing.T) {
	candidates := []Location{
		{ID: 1, Code: "SL", Name: "Sucursal López"},
		{ID: 2, Code: "AC", Name: "Almacén Central"},
	}

	got, err := resolveByName(candidates, "sucursal lopez")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ID)
}

func TestResolveByNameMatchesCode(t *testing.T) {
	candidates := []Location{
		{ID: 1, Code: "SL", Name: "Sucursal López"},
		{ID: 2, Code: "AC", Name: "Almacén Central"},
	}

	got, err := resolveByName(candidates, "ac")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ID)
}

func TestResolveByNameUniqueSubstring(t *testing.T) {
	candidates := []Location{
		{ID: 1, Code: "SL", Name: "Sucursal López"},
		{ID: 2, Code: "AC", Name: "Almacén Central"},
	}

	got, err := resolveByName(candidates, "central")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ID)
}

func TestResolveByNameAmbiguous(t *testing.T) {
	candidates := []Location{
		{ID: 1, Code: "S1", Name: "Sucursal Norte"},
		{ID: 2, Code: "S2", Name: "Sucursal Sur"},
	}

	_, err := resolveByName(candidates, "sucursal")
	assert.ErrorIs(t, err, ErrAmbiguousName)
}

func TestResolveByNameExactBeatsSubstring(t *testing.T) {
	candidates := []Location{
		{ID: 1, Code: "S1", Name: "Sucursal Norte"},
		{ID: 2, Code: "S2", Name: "Sucursal Norte Anexo"},
	}

	got, err := resolveByName(candidates, "Sucursal Norte")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ID)
}

func TestResolveByNameNotFound(t *testing.T) {
	candidates := []Location{
		{ID: 1, Code: "SL", Name: "Sucursal López"},
	}

	_, err := resolveByName(candidates, "bodega")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = resolveByName(candidates, "   ")
	assert.ErrorIs(t, err, ErrNotFound)
}
