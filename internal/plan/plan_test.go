package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/chainlab/internal/catalog"
	"github.com/Benny93/chainlab/internal/chain"
)

var (
	pixels = &catalog.SemanticType{ID: 1, Name: "PixelsType"}
	mask   = &catalog.SemanticType{ID: 2, Name: "MaskType"}
	count  = &catalog.SemanticType{ID: 3, Name: "IntType"}

	threshold = catalog.NewModuleDef(10, "Threshold",
		[]catalog.FormalParam{{Name: "Image", Type: pixels}},
		[]catalog.FormalParam{{Name: "Mask", Type: mask}},
	)
	counter = catalog.NewModuleDef(11, "Count",
		[]catalog.FormalParam{{Name: "Mask", Type: mask}},
		[]catalog.FormalParam{{Name: "N", Type: count}},
	)
	dilate = catalog.NewModuleDef(12, "Dilate",
		[]catalog.FormalParam{{Name: "In", Type: mask}},
		[]catalog.FormalParam{{Name: "Out", Type: mask}},
	)
)

func addNode(t *testing.T, c *chain.Chain, m *catalog.ModuleDef) chain.NodeID {
	t.Helper()
	id, err := c.AddNode(m)
	require.NoError(t, err)
	return id
}

func link(t *testing.T, c *chain.Chain, from, to chain.Endpoint) {
	t.Helper()
	_, err := c.AddLink(from, to)
	require.NoError(t, err)
}

func TestBuild(t *testing.T) {
	t.Parallel()

	t.Run("Empty", func(t *testing.T) {
		p, err := Build(chain.New("alice"))
		require.NoError(t, err)
		assert.Empty(t, p.Order)
		assert.Empty(t, p.Stages)
		assert.Empty(t, p.FreeInputs)
	})

	t.Run("Linear", func(t *testing.T) {
		c := chain.New("alice")
		cnt := addNode(t, c, counter)
		thr := addNode(t, c, threshold)
		link(t, c, chain.Out(thr, "Mask"), chain.In(cnt, "Mask"))

		p, err := Build(c)
		require.NoError(t, err)
		assert.Equal(t, c.ID(), p.ChainID)
		assert.Equal(t, []chain.NodeID{thr, cnt}, p.Order)
		assert.Equal(t, [][]chain.NodeID{{thr}, {cnt}}, p.Stages)
		assert.Equal(t, []chain.Endpoint{chain.In(thr, "Image")}, p.FreeInputs)
	})

	t.Run("Diamond", func(t *testing.T) {
		c := chain.New("alice")
		thr := addNode(t, c, threshold)
		left := addNode(t, c, dilate)
		right := addNode(t, c, dilate)
		unrelated := addNode(t, c, counter)
		sink := addNode(t, c, counter)
		tail := addNode(t, c, dilate)

		link(t, c, chain.Out(thr, "Mask"), chain.In(left, "In"))
		link(t, c, chain.Out(thr, "Mask"), chain.In(right, "In"))
		link(t, c, chain.Out(left, "Out"), chain.In(tail, "In"))
		link(t, c, chain.Out(right, "Out"), chain.In(sink, "Mask"))

		p, err := Build(c)
		require.NoError(t, err)
		assert.Equal(t, [][]chain.NodeID{
			{thr, unrelated},
			{left, right},
			{sink, tail},
		}, p.Stages)
		assert.Equal(t, []chain.NodeID{thr, unrelated, left, right, sink, tail}, p.Order)
	})

	t.Run("OrderRespectsLinks", func(t *testing.T) {
		c := chain.New("alice")
		var ids []chain.NodeID
		for i := 0; i < 6; i++ {
			ids = append(ids, addNode(t, c, dilate))
		}
		// Wire them in reverse insertion order.
		for i := len(ids) - 1; i > 0; i-- {
			link(t, c, chain.Out(ids[i], "Out"), chain.In(ids[i-1], "In"))
		}

		p, err := Build(c)
		require.NoError(t, err)

		pos := make(map[chain.NodeID]int)
		for i, id := range p.Order {
			pos[id] = i
		}
		for _, l := range c.Links() {
			assert.Less(t, pos[l.From.Node], pos[l.To.Node])
		}
	})
}

func TestBuild_Cycles(t *testing.T) {
	t.Parallel()

	t.Run("SelfLink", func(t *testing.T) {
		c := chain.New("alice")
		d := addNode(t, c, dilate)
		link(t, c, chain.Out(d, "Out"), chain.In(d, "In"))

		_, err := Build(c)
		require.ErrorIs(t, err, ErrCyclicChain)

		var ce *CycleError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, [][]chain.NodeID{{d}}, ce.Cycles)
	})

	t.Run("Loop", func(t *testing.T) {
		c := chain.New("alice")
		a := addNode(t, c, dilate)
		b := addNode(t, c, dilate)
		addNode(t, c, threshold)
		link(t, c, chain.Out(a, "Out"), chain.In(b, "In"))
		link(t, c, chain.Out(b, "Out"), chain.In(a, "In"))

		_, err := Build(c)
		require.ErrorIs(t, err, ErrCyclicChain)

		var ce *CycleError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, [][]chain.NodeID{{a, b}}, ce.Cycles)
		assert.Contains(t, err.Error(), "chain contains a cycle")
	})
}
