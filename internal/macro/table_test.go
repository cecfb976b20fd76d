package macro

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindOnEmptyTable(t *testing.T) {
	tbl := newTable()
	assert.Nil(t, tbl.Find("anything"))
	assert.Equal(t, 0, tbl.Len())
	assert.Equal(t, 0, tbl.Allocated())
}

func TestPushPopRestoresPriorLookup(t *testing.T) {
	tbl := newTable()

	tbl.Push("name", "", false, "first", LevelGlobal)
	before := tbl.Find("name")
	require.NotNil(t, before)

	tbl.Push("name", "", false, "second", 3)
	assert.Equal(t, "second", tbl.Find("name").Body)

	tbl.Pop("name")
	assert.Same(t, before, tbl.Find("name"))

	tbl.Pop("name")
	assert.Nil(t, tbl.Find("name"))
	assert.Equal(t, 0, tbl.Len())

	// popping an unknown name is harmless
	tbl.Pop("name")
	assert.Equal(t, 0, tbl.Len())
}

func TestTableStaysSorted(t *testing.T) {
	tbl := newTable()
	for _, n := range []string{"zeta", "alpha", "mid", "_under", "Beta"} {
		tbl.Push(n, "", false, "x", 0)
	}
	var names []string
	for _, e := range tbl.Entries() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"Beta", "_under", "alpha", "mid", "zeta"}, names)

	tbl.Pop("mid")
	for _, n := range []string{"Beta", "_under", "alpha", "zeta"} {
		assert.NotNil(t, tbl.Find(n), n)
	}
	assert.Nil(t, tbl.Find("mid"))
}

func TestTableGrowsInChunks(t *testing.T) {
	tbl := newTable()
	for i := 0; i < chunkSize+1; i++ {
		tbl.Push(fmt.Sprintf("m%03d", i), "", false, "x", 0)
	}
	assert.Equal(t, chunkSize+1, tbl.Len())
	assert.Equal(t, 2*chunkSize, tbl.Allocated())
	assert.NotNil(t, tbl.Find("m000"))
	assert.NotNil(t, tbl.Find(fmt.Sprintf("m%03d", chunkSize)))
}

func TestPopAtOrAbove(t *testing.T) {
	tbl := newTable()
	tbl.Push("keep", "", false, "g", LevelGlobal)
	tbl.Push("keep", "", false, "shadow", 2)
	tbl.Push("1", "", false, "arg", 2)
	tbl.Push("deep", "", false, "d", 3)
	tbl.Push("spec", "", false, "s", LevelSpec)

	popped := tbl.PopAtOrAbove(2)
	assert.Equal(t, 3, popped)
	assert.Equal(t, "g", tbl.Find("keep").Body)
	assert.Nil(t, tbl.Find("1"))
	assert.Nil(t, tbl.Find("deep"))
	assert.NotNil(t, tbl.Find("spec"))
	assert.Equal(t, 2, tbl.Len())
}

func TestCloneIsDeep(t *testing.T) {
	tbl := newTable()
	tbl.Push("a", "", false, "1", 0)
	tbl.Push("a", "", false, "2", 1)

	c := tbl.clone()
	c.Pop("a")
	c.Push("b", "", false, "x", 0)

	assert.Equal(t, "2", tbl.Find("a").Body)
	assert.Nil(t, tbl.Find("b"))
	assert.Equal(t, "1", c.Find("a").Body)
}
