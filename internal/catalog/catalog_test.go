package catalog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCatalog(t *testing.T) *Catalog {
	t.Helper()

	pixels := &SemanticType{ID: 1, Name: "PixelsType"}
	mask := &SemanticType{ID: 2, Name: "MaskType"}
	count := &SemanticType{ID: 3, Name: "IntType"}

	threshold := NewModuleDef(10, "Threshold",
		[]FormalParam{{Name: "Image", Type: pixels}},
		[]FormalParam{{Name: "Mask", Type: mask}},
	)
	counter := NewModuleDef(11, "Count",
		[]FormalParam{{Name: "Mask", Type: mask}},
		[]FormalParam{{Name: "N", Type: count}},
	)
	thresholdV2 := NewModuleDef(12, "Threshold",
		[]FormalParam{{Name: "Image", Type: pixels}, {Name: "Level"}},
		[]FormalParam{{Name: "Mask", Type: mask}},
	)

	c, err := New([]*SemanticType{count, pixels, mask}, []*ModuleDef{threshold, counter, thresholdV2})
	require.NoError(t, err)
	return c
}

func TestSemanticType_Equal(t *testing.T) {
	t.Parallel()

	a := &SemanticType{ID: 1, Name: "PixelsType"}
	b := &SemanticType{ID: 1, Name: "PixelsType"}
	c := &SemanticType{ID: 2, Name: "MaskType"}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))

	var none *SemanticType
	assert.False(t, none.Equal(nil))
	assert.Equal(t, "<untyped>", none.String())
}

func TestModuleDef(t *testing.T) {
	t.Parallel()

	t.Run("Immutable", func(t *testing.T) {
		inputs := []FormalParam{{Name: "Image"}}
		m := NewModuleDef(1, "Threshold", inputs, nil)

		inputs[0].Name = "Changed"
		assert.Equal(t, "Image", m.Inputs()[0].Name)

		got := m.Inputs()
		got[0].Name = "Changed"
		assert.Equal(t, "Image", m.Inputs()[0].Name)
	})

	t.Run("ParamLookup", func(t *testing.T) {
		c := sampleCatalog(t)
		m, ok := c.ModuleByID(12)
		require.True(t, ok)

		p, idx, ok := m.Input("Level")
		assert.True(t, ok)
		assert.Equal(t, 1, idx)
		assert.False(t, p.Typed())

		_, _, ok = m.Output("Level")
		assert.False(t, ok)
	})

	t.Run("WithDescription", func(t *testing.T) {
		m := NewModuleDef(1, "Threshold", nil, nil)
		d := m.WithDescription("binarize an image")

		assert.Empty(t, m.Description())
		assert.Equal(t, "binarize an image", d.Description())
		assert.Equal(t, m.ID(), d.ID())
	})

	t.Run("JSON", func(t *testing.T) {
		c := sampleCatalog(t)
		m, ok := c.ModuleByID(12)
		require.True(t, ok)

		data, err := json.Marshal(m)
		require.NoError(t, err)
		assert.JSONEq(t, `{
			"id": 12,
			"name": "Threshold",
			"inputs": [{"name": "Image", "type": "PixelsType"}, {"name": "Level"}],
			"outputs": [{"name": "Mask", "type": "MaskType"}]
		}`, string(data))

		data, err = json.Marshal(NewModuleDef(1, "Source", nil, nil))
		require.NoError(t, err)
		assert.JSONEq(t, `{"id": 1, "name": "Source", "inputs": [], "outputs": []}`, string(data))
	})
}

func TestCatalog_Lookups(t *testing.T) {
	t.Parallel()

	c := sampleCatalog(t)

	t.Run("ModuleByName", func(t *testing.T) {
		m, ok := c.ModuleByName("Threshold")
		require.True(t, ok)
		assert.Equal(t, int64(10), m.ID())

		_, ok = c.ModuleByName("Missing")
		assert.False(t, ok)
	})

	t.Run("ModulesByName", func(t *testing.T) {
		ms := c.ModulesByName("Threshold")
		require.Len(t, ms, 2)
		assert.Equal(t, int64(10), ms[0].ID())
		assert.Equal(t, int64(12), ms[1].ID())

		assert.Empty(t, c.ModulesByName("Missing"))
	})

	t.Run("FormalParams", func(t *testing.T) {
		m, _ := c.ModuleByID(11)
		assert.Equal(t, "Mask", c.FormalInputs(m)[0].Name)
		assert.Equal(t, "N", c.FormalOutputs(m)[0].Name)
	})

	t.Run("Types", func(t *testing.T) {
		types := c.Types()
		require.Len(t, types, 3)
		assert.Equal(t, "PixelsType", types[0].Name)

		ty, ok := c.TypeByName("MaskType")
		require.True(t, ok)
		assert.Equal(t, int64(2), ty.ID)

		_, ok = c.TypeByID(99)
		assert.False(t, ok)
	})

	t.Run("Modules", func(t *testing.T) {
		assert.Len(t, c.Modules(), 3)
		assert.Equal(t, 3, c.ModuleCount())
	})
}

func TestNew_Rejects(t *testing.T) {
	t.Parallel()

	pixels := &SemanticType{ID: 1, Name: "PixelsType"}

	tests := []struct {
		name    string
		types   []*SemanticType
		modules []*ModuleDef
	}{
		{
			name:  "DuplicateTypeID",
			types: []*SemanticType{pixels, {ID: 1, Name: "Other"}},
		},
		{
			name:  "DuplicateTypeName",
			types: []*SemanticType{pixels, {ID: 2, Name: "PixelsType"}},
		},
		{
			name:  "DuplicateModuleID",
			types: []*SemanticType{pixels},
			modules: []*ModuleDef{
				NewModuleDef(1, "A", nil, nil),
				NewModuleDef(1, "B", nil, nil),
			},
		},
		{
			name:  "DuplicateInputName",
			types: []*SemanticType{pixels},
			modules: []*ModuleDef{
				NewModuleDef(1, "A", []FormalParam{{Name: "x"}, {Name: "x"}}, nil),
			},
		},
		{
			name:  "UnknownParamType",
			types: []*SemanticType{pixels},
			modules: []*ModuleDef{
				NewModuleDef(1, "A", nil, []FormalParam{{Name: "y", Type: &SemanticType{ID: 7, Name: "Ghost"}}}),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.types, tt.modules)
			assert.ErrorIs(t, err, ErrInvalidCatalog)
		})
	}
}

func TestModuleDef_Validate(t *testing.T) {
	t.Parallel()

	mask := &SemanticType{ID: 2, Name: "MaskType"}

	tests := []struct {
		name    string
		module  *ModuleDef
		wantErr bool
	}{
		{
			name:   "Distinct",
			module: NewModuleDef(1, "A", []FormalParam{{Name: "x"}, {Name: "y"}}, []FormalParam{{Name: "x"}}),
		},
		{
			name:    "DuplicateInput",
			module:  NewModuleDef(1, "A", []FormalParam{{Name: "x", Type: mask}, {Name: "x", Type: mask}}, nil),
			wantErr: true,
		},
		{
			name:    "DuplicateOutput",
			module:  NewModuleDef(1, "A", nil, []FormalParam{{Name: "y"}, {Name: "y"}}),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.module.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidModule)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNew_SameNameAcrossPolarities(t *testing.T) {
	t.Parallel()

	mask := &SemanticType{ID: 2, Name: "MaskType"}
	m := NewModuleDef(1, "Dilate",
		[]FormalParam{{Name: "Mask", Type: mask}},
		[]FormalParam{{Name: "Mask", Type: mask}},
	)

	_, err := New([]*SemanticType{mask}, []*ModuleDef{m})
	assert.NoError(t, err)
}
