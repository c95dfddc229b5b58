package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osis-hub/program-hub/internal/domain/programtree"
	"github.com/osis-hub/program-hub/internal/domain/shared"
)

func TestLinkStore_AdjacencyList(t *testing.T) {
	store := NewStore()
	ids := seedTree(t, store)
	links := NewLinkStore(store)

	records, err := links.AdjacencyList(context.Background(), []int64{ids["BIR1BA"]})

	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, 0, records[0].Level)
	assert.Equal(t, ids["LBIR100T"], records[0].ChildID)
	assert.Equal(t, fmt.Sprintf("%d|%d", ids["BIR1BA"], ids["LBIR100T"]), records[0].Path)
	assert.Equal(t, ids["LBIR150T"], records[1].ChildID)
	assert.Equal(t, ids["LBIR1120"], records[2].ChildID)
	assert.Equal(t, 1, records[2].Level)
	assert.Equal(t, 2, records[3].Level)
	assert.Equal(t, fmt.Sprintf("%d|%d|%d|%d", ids["BIR1BA"], ids["LBIR100T"], ids["LBIR150T"], ids["LBIR1110"]), records[3].Path)
	for _, r := range records {
		assert.Equal(t, ids["BIR1BA"], r.StartingNodeID)
	}
}

func TestLinkStore_AdjacencyListEmptyRoots(t *testing.T) {
	links := NewLinkStore(NewStore())

	records, err := links.AdjacencyList(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLinkStore_AdjacencyListSkipsUncontainedLearningUnits(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	ids := seedTree(t, store)
	nodes := NewNodeRepository(store)
	lu, err := nodes.GetByID(ctx, ids["LBIR1120"])
	require.NoError(t, err)
	lu.HasContainer = false
	require.NoError(t, nodes.Save(ctx, lu))

	records, err := NewLinkStore(store).AdjacencyList(ctx, []int64{ids["BIR1BA"]})

	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestLinkStore_ReverseAdjacencyList(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	ids := seedTree(t, store)
	links := NewLinkStore(store)

	t.Run("all parents", func(t *testing.T) {
		records, err := links.ReverseAdjacencyList(ctx, programtree.ReverseQuery{ChildIDs: []int64{ids["LBIR1110"]}})
		require.NoError(t, err)
		// LBIR150T, then LBIR100T and BIR2BA, then BIR1BA.
		require.Len(t, records, 4)
		assert.Equal(t, 2, records[0].Level)
		assert.Equal(t, ids["BIR1BA"], records[0].ParentID)
		assert.Equal(t, 0, records[len(records)-1].Level)
		assert.Equal(t, ids["LBIR150T"], records[len(records)-1].ParentID)
	})

	t.Run("reference links only", func(t *testing.T) {
		ref := programtree.LinkTypeReference
		records, err := links.ReverseAdjacencyList(ctx, programtree.ReverseQuery{ChildIDs: []int64{ids["LBIR150T"]}, LinkType: &ref})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, ids["BIR2BA"], records[0].ParentID)
	})

	t.Run("year filter", func(t *testing.T) {
		year := 2023
		records, err := links.ReverseAdjacencyList(ctx, programtree.ReverseQuery{ChildIDs: []int64{ids["LBIR1110"]}, Year: &year})
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("missing filter", func(t *testing.T) {
		_, err := links.ReverseAdjacencyList(ctx, programtree.ReverseQuery{})
		assert.ErrorIs(t, err, shared.ErrMissingQueryFilter)
	})
}

func TestLinkStore_RootList(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	ids := seedTree(t, store)
	links := NewLinkStore(store)

	roots, err := links.RootList(ctx, programtree.RootQuery{
		ChildIDs:  []int64{ids["LBIR1110"], ids["LBIR1120"]},
		RootTypes: programtree.TopLevelTypes(),
	})

	require.NoError(t, err)
	assert.ElementsMatch(t, []programtree.RootRecord{
		{ChildID: ids["LBIR1110"], RootID: ids["BIR1BA"]},
		{ChildID: ids["LBIR1110"], RootID: ids["BIR2BA"]},
		{ChildID: ids["LBIR1120"], RootID: ids["BIR1BA"]},
	}, roots)

	_, err = links.RootList(ctx, programtree.RootQuery{RootTypes: programtree.TopLevelTypes()})
	assert.True(t, shared.IsInvalidInput(err))
}

func TestLinkStore_SearchFromChildren(t *testing.T) {
	store := NewStore()
	ids := seedTree(t, store)

	trees, err := NewProgramTreeRepository(store).SearchFromChildren(context.Background(), []int64{ids["LBIR150T"]}, nil)

	require.NoError(t, err)
	codes := make([]string, 0, len(trees))
	for _, tree := range trees {
		codes = append(codes, tree.Root.Code)
	}
	assert.ElementsMatch(t, []string{"BIR1BA", "BIR2BA"}, codes)
}
