package aliases

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"City/Municipality", "city_municipality"},
		{"  ZV/SQ.M. ", "zv_sq_m"},
		{"Street Name / Subdivision / Condominium", "street_name_subdivision_condominium"},
		{"Zonal Value (per sq.m.)", "zonal_value_per_sq_m"},
		{"---", ""},
		{"", ""},
		{"RDO", "rdo"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.raw))
		})
	}
}

func TestResolve(t *testing.T) {
	r := Default()

	tests := []struct {
		raw   string
		field string
		ok    bool
	}{
		{"Revenue District Office", FieldRDOCode, true},
		{"BRGY", FieldBarangay, true},
		{"Zone/Barangay", FieldBarangay, true},
		{"Classification", FieldPropertyClass, true},
		{"ZV/SQ.M.", FieldZonalValue, true},
		{"UOM", FieldUnit, true},
		{"Effectivity", FieldEffectivityDate, true},
		{"Note", FieldRemarks, true},
		{"Owner", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			field, ok := r.Resolve(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.field, field)
		})
	}
}

func TestExtend_DoesNotMutateBase(t *testing.T) {
	base := Default()
	before := base.Len()

	extended, err := base.Extend(map[string][]string{
		FieldBarangay: {"Bgy."},
	})
	require.NoError(t, err)

	field, ok := extended.Resolve("BGY")
	assert.True(t, ok)
	assert.Equal(t, FieldBarangay, field)

	_, ok = base.Resolve("BGY")
	assert.False(t, ok)
	assert.Equal(t, before, base.Len())
}

func TestExtend_RejectsUnknownField(t *testing.T) {
	_, err := Default().Extend(map[string][]string{"owner": {"Owner Name"}})
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aliases.yaml")
	content := "aliases:\n  zonal_value:\n    - \"Market Value / sq.m.\"\n  city_municipality:\n    - \"Town\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	r, err := LoadFile(path)
	require.NoError(t, err)

	field, ok := r.Resolve("market value/sq.m.")
	assert.True(t, ok)
	assert.Equal(t, FieldZonalValue, field)

	field, ok = r.Resolve("TOWN")
	assert.True(t, ok)
	assert.Equal(t, FieldCityMunicipality, field)
}

func TestLoadFile_EmptyPathUsesDefaults(t *testing.T) {
	r, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, Default().Len(), r.Len())
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("aliases: [unclosed"), 0o600))
	_, err = LoadFile(bad)
	assert.Error(t, err)

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("aliases:\n  owner: [\"Owner\"]\n"), 0o600))
	_, err = LoadFile(unknown)
	assert.Error(t, err)
}
