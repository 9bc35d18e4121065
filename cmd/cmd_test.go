package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/chainlab/internal/catalog"
	"github.com/Benny93/chainlab/internal/chain"
	"github.com/Benny93/chainlab/internal/session"
	"github.com/Benny93/chainlab/internal/storage"
)

const catalogHCL = `
semantic_type "PixelsType" {
  id = 1
}

semantic_type "MaskType" {
  id = 2
}

semantic_type "IntType" {
  id = 3
}

module "Threshold" {
  id = 10

  input "Image" {
    type = "PixelsType"
  }

  output "Mask" {
    type = "MaskType"
  }
}

module "Count" {
  id = 11

  input "Mask" {
    type = "MaskType"
  }

  output "N" {
    type = "IntType"
  }
}
`

// workspace is a temporary catalog plus data directory.
type workspace struct {
	catalogPath string
	dataDir     string
}

func setupWorkspace(t *testing.T) *workspace {
	t.Helper()

	dir := t.TempDir()
	catDir := filepath.Join(dir, "catalog")
	require.NoError(t, os.MkdirAll(catDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(catDir, "imaging.hcl"), []byte(catalogHCL), 0o644))

	return &workspace{
		catalogPath: catDir,
		dataDir:     filepath.Join(dir, "data"),
	}
}

// run executes the CLI with the workspace flags prepended.
func (w *workspace) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cli := &CLI{Globals: Globals{
		stdin:  strings.NewReader(stdin),
		stdout: &stdout,
		stderr: &stderr,
	}}

	base := []string{
		"--owner", "alice",
		"--catalog", w.catalogPath,
		"--data-dir", w.dataDir,
		"--log-level", "error",
	}
	err := cli.Execute(append(base, args...))
	return stdout.String(), err
}

// commitChain stores a linked Threshold -> Count chain and returns its id.
func (w *workspace) commitChain(t *testing.T) uuid.UUID {
	t.Helper()

	cat, err := catalog.Load(w.catalogPath)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(w.dataDir, 0o755))
	store := storage.NewBadgerStore()
	require.NoError(t, store.Initialize(filepath.Join(w.dataDir, "badger"), false))

	sess := session.New("alice", cat, session.WithStore(store))
	defer func() { require.NoError(t, sess.Close()) }()

	thrDef, _ := cat.ModuleByName("Threshold")
	cntDef, _ := cat.ModuleByName("Count")

	c := sess.NewChain("segmentation")
	thr, err := c.AddNode(thrDef)
	require.NoError(t, err)
	cnt, err := c.AddNode(cntDef)
	require.NoError(t, err)
	_, err = c.AddLink(chain.Out(thr, "Mask"), chain.In(cnt, "Mask"))
	require.NoError(t, err)

	require.NoError(t, sess.Commit(context.Background(), c.ID()))
	return c.ID()
}

// stored loads the committed summaries directly from the store.
func (w *workspace) stored(t *testing.T) []storage.Summary {
	t.Helper()

	store := storage.NewBadgerStore()
	require.NoError(t, store.Initialize(filepath.Join(w.dataDir, "badger"), true))
	defer func() { _ = store.Close() }()

	summaries, err := store.List(context.Background())
	require.NoError(t, err)
	return summaries
}

func TestCatalogCmd(t *testing.T) {
	t.Parallel()

	w := setupWorkspace(t)

	t.Run("All", func(t *testing.T) {
		out, err := w.run(t, "", "catalog")
		require.NoError(t, err)
		assert.Contains(t, out, "Semantic types (3)")
		assert.Contains(t, out, "Modules (2)")
		assert.Contains(t, out, "Threshold")
		assert.Contains(t, out, "MaskType")
	})

	t.Run("ByName", func(t *testing.T) {
		out, err := w.run(t, "", "catalog", "Count")
		require.NoError(t, err)
		assert.Contains(t, out, "Modules (1)")
		assert.NotContains(t, out, "Threshold")
	})

	t.Run("UnknownName", func(t *testing.T) {
		_, err := w.run(t, "", "catalog", "Blur")
		assert.Error(t, err)
	})
}

func TestChainsCmd(t *testing.T) {
	t.Parallel()

	t.Run("Empty", func(t *testing.T) {
		w := setupWorkspace(t)
		out, err := w.run(t, "", "chains")
		require.NoError(t, err)
		assert.Contains(t, out, "No committed chains")
	})

	t.Run("Listed", func(t *testing.T) {
		w := setupWorkspace(t)
		id := w.commitChain(t)

		out, err := w.run(t, "", "chains")
		require.NoError(t, err)
		assert.Contains(t, out, id.String())
		assert.Contains(t, out, "segmentation")
	})

	t.Run("JSON", func(t *testing.T) {
		w := setupWorkspace(t)
		id := w.commitChain(t)

		out, err := w.run(t, "", "chains", "--json")
		require.NoError(t, err)
		assert.Contains(t, out, `"id": "`+id.String()+`"`)
		assert.Contains(t, out, `"nodes": 2`)
	})
}

func TestShowCmd(t *testing.T) {
	t.Parallel()

	w := setupWorkspace(t)
	id := w.commitChain(t)

	t.Run("Text", func(t *testing.T) {
		out, err := w.run(t, "", "show", id.String())
		require.NoError(t, err)
		assert.Contains(t, out, "Chain segmentation")
		assert.Contains(t, out, "Nodes (2)")
		assert.Contains(t, out, "Links (1)")
		assert.Contains(t, out, "Free inputs (1)")
		assert.Contains(t, out, ".input:Image")
	})

	t.Run("JSON", func(t *testing.T) {
		out, err := w.run(t, "", "show", "--json", id.String())
		require.NoError(t, err)
		assert.Contains(t, out, `"owner": "alice"`)
		assert.Contains(t, out, `"free_inputs"`)
	})

	t.Run("UnknownChain", func(t *testing.T) {
		_, err := w.run(t, "", "show", uuid.NewString())
		assert.ErrorIs(t, err, session.ErrUnknownChain)
	})

	t.Run("BadID", func(t *testing.T) {
		_, err := w.run(t, "", "show", "not-a-uuid")
		assert.Error(t, err)
	})
}

func TestShowCmd_NoStore(t *testing.T) {
	t.Parallel()

	w := setupWorkspace(t)
	_, err := w.run(t, "", "show", uuid.NewString())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no chain store")
}

func TestPlanCmd(t *testing.T) {
	t.Parallel()

	w := setupWorkspace(t)
	id := w.commitChain(t)

	out, err := w.run(t, "", "plan", id.String())
	require.NoError(t, err)
	assert.Contains(t, out, "Execution plan for segmentation")

	thr := strings.Index(out, ":Threshold")
	cnt := strings.Index(out, ":Count")
	require.NotEqual(t, -1, thr)
	require.NotEqual(t, -1, cnt)
	assert.Less(t, thr, cnt)
	assert.Contains(t, out, "Inputs to supply (1)")
}

func TestCloneCmd(t *testing.T) {
	t.Parallel()

	t.Run("DefaultOwner", func(t *testing.T) {
		w := setupWorkspace(t)
		id := w.commitChain(t)

		out, err := w.run(t, "", "clone", id.String())
		require.NoError(t, err)
		assert.Contains(t, out, "owner alice")

		summaries := w.stored(t)
		require.Len(t, summaries, 2)
		for _, s := range summaries {
			assert.Equal(t, 2, s.Nodes)
			assert.Equal(t, 1, s.Links)
		}
	})

	t.Run("ExplicitOwner", func(t *testing.T) {
		w := setupWorkspace(t)
		id := w.commitChain(t)

		out, err := w.run(t, "", "clone", id.String(), "--owner", "bob")
		require.NoError(t, err)
		assert.Contains(t, out, "owner bob")

		owners := map[string]bool{}
		for _, s := range w.stored(t) {
			owners[s.Owner] = true
		}
		assert.True(t, owners["alice"])
		assert.True(t, owners["bob"])
	})
}

func TestLockCmd(t *testing.T) {
	t.Parallel()

	w := setupWorkspace(t)
	id := w.commitChain(t)

	out, err := w.run(t, "", "lock", id.String())
	require.NoError(t, err)
	assert.Contains(t, out, "locked")
	require.Len(t, w.stored(t), 1)
	assert.True(t, w.stored(t)[0].Locked)

	_, err = w.run(t, "", "unlock", id.String())
	require.NoError(t, err)
	assert.False(t, w.stored(t)[0].Locked)
}

func TestDeleteCmd(t *testing.T) {
	t.Parallel()

	t.Run("Aborted", func(t *testing.T) {
		w := setupWorkspace(t)
		id := w.commitChain(t)

		out, err := w.run(t, "n\n", "delete", id.String())
		require.NoError(t, err)
		assert.Contains(t, out, "Aborted")
		assert.Len(t, w.stored(t), 1)
	})

	t.Run("Confirmed", func(t *testing.T) {
		w := setupWorkspace(t)
		id := w.commitChain(t)

		_, err := w.run(t, "y\n", "delete", id.String())
		require.NoError(t, err)
		assert.Empty(t, w.stored(t))
	})

	t.Run("Force", func(t *testing.T) {
		w := setupWorkspace(t)
		id := w.commitChain(t)

		out, err := w.run(t, "", "delete", "-f", id.String())
		require.NoError(t, err)
		assert.Contains(t, out, "Deleted "+id.String())
		assert.Empty(t, w.stored(t))
	})

	t.Run("Unknown", func(t *testing.T) {
		w := setupWorkspace(t)
		w.commitChain(t)

		_, err := w.run(t, "", "delete", "-f", uuid.NewString())
		assert.ErrorIs(t, err, session.ErrUnknownChain)
	})
}

func TestConfigCmd(t *testing.T) {
	t.Parallel()

	w := setupWorkspace(t)
	out, err := w.run(t, "", "config")
	require.NoError(t, err)
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, w.dataDir)
	assert.Contains(t, out, "127.0.0.1:8080")
}

func TestMCPCmd(t *testing.T) {
	t.Parallel()

	w := setupWorkspace(t)

	// Closed stdin ends the session; nothing but protocol traffic may reach stdout.
	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := w.run(t, "", "mcp")
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		assert.Empty(t, r.out)
	case <-time.After(5 * time.Second):
		t.Fatal("mcp command did not exit on closed stdin")
	}
}

func TestGlobals_Overrides(t *testing.T) {
	t.Parallel()

	g := &Globals{Owner: "erin", Verbose: true}
	o := g.overrides()
	assert.Equal(t, "erin", o["owner"])
	assert.Equal(t, "debug", o["log.level"])
	assert.Equal(t, "", o["data.dir"])
}
