package query

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osis-hub/program-hub/internal/domain/programtree"
	"github.com/osis-hub/program-hub/internal/domain/shared"
	"github.com/osis-hub/program-hub/internal/domain/treeversion"
	"github.com/osis-hub/program-hub/internal/infrastructure/persistence/memory"
	"github.com/osis-hub/program-hub/pkg/logger"
)

type seeded struct {
	store  *memory.Store
	trees  *memory.ProgramTreeRepository
	root   *programtree.Node
	core   *programtree.Node
	first  *programtree.Node
	second *programtree.Node
}

// seed stores BIR1BA/2024 -> common core -> two learning units, the first
// requiring the second.
func seed(t *testing.T) *seeded {
	t.Helper()
	st := memory.NewStore()
	s := &seeded{
		store:  st,
		trees:  memory.NewProgramTreeRepository(st),
		root:   programtree.NewNode(0, "LBIR100B", 2024, "Bachelier", programtree.TypeBachelor),
		core:   programtree.NewNode(0, "LBIR101T", 2024, "Tronc commun", programtree.TypeCommonCore),
		first:  programtree.NewNode(0, "LBIR1110", 2024, "Chimie", programtree.TypeLearningUnit),
		second: programtree.NewNode(0, "LBIR1120", 2024, "Physique", programtree.TypeLearningUnit),
	}
	s.root.AddChild(programtree.NewLink(s.core, programtree.DefaultLinkAttributes()))
	s.core.AddChild(programtree.NewLink(s.first, programtree.DefaultLinkAttributes()))
	s.core.AddChild(programtree.NewLink(s.second, programtree.DefaultLinkAttributes()))
	tree := programtree.New(s.root)
	_, err := s.trees.Create(context.Background(), tree)
	require.NoError(t, err)

	_, err = tree.SetPrerequisite(programtree.BuildPath(s.root.ID, s.core.ID, s.first.ID), "LBIR1120")
	require.NoError(t, err)
	_, err = s.trees.Update(context.Background(), tree)
	require.NoError(t, err)
	return s
}

func quiet() *logger.Logger {
	return logger.New(logger.Options{Output: io.Discard})
}

func TestGetTree(t *testing.T) {
	s := seed(t)
	h := NewGetTreeHandler(s.trees, quiet())

	dto, err := h.Handle(context.Background(), GetTreeQuery{Tree: programtree.TreeIdentity{Code: "LBIR100B", Year: 2024}})

	require.NoError(t, err)
	assert.Equal(t, "LBIR100B", dto.Code)
	assert.Nil(t, dto.Root.Link)
	require.Len(t, dto.Root.Children, 1)

	core := dto.Root.Children[0]
	assert.Equal(t, programtree.BuildPath(s.root.ID, s.core.ID), core.Path)
	require.NotNil(t, core.Link)
	assert.Equal(t, 0, core.Link.Order)
	require.Len(t, core.Children, 2)

	first, second := core.Children[0], core.Children[1]
	assert.Equal(t, "LBIR1120", first.Prerequisite)
	assert.False(t, first.IsPrerequisite)
	assert.Empty(t, second.Prerequisite)
	assert.True(t, second.IsPrerequisite)
	assert.Equal(t, 1, second.Link.Order)

	_, err = h.Handle(context.Background(), GetTreeQuery{Tree: programtree.TreeIdentity{Code: "NOPE", Year: 2024}})
	assert.True(t, shared.IsNotFound(err))

	_, err = h.Handle(context.Background(), GetTreeQuery{Tree: programtree.TreeIdentity{Year: 2024}})
	assert.True(t, shared.IsInvalidInput(err))
}

func TestGetPrerequisite(t *testing.T) {
	s := seed(t)
	h := NewGetPrerequisiteHandler(s.trees, memory.NewPrerequisiteRepository(s.store), quiet())
	tree := programtree.TreeIdentity{Code: "LBIR100B", Year: 2024}

	dto, err := h.Handle(context.Background(), GetPrerequisiteQuery{
		Tree: tree,
		Path: programtree.BuildPath(s.root.ID, s.core.ID, s.first.ID).String(),
	})
	require.NoError(t, err)
	assert.Equal(t, "LBIR1120", dto.Expression)
	assert.Equal(t, []string{"LBIR1120"}, dto.Codes)

	dto, err = h.Handle(context.Background(), GetPrerequisiteQuery{
		Tree: tree,
		Path: programtree.BuildPath(s.root.ID, s.core.ID, s.second.ID).String(),
	})
	require.NoError(t, err)
	assert.Empty(t, dto.Expression)
	assert.True(t, dto.IsPrerequisite)

	_, err = h.Handle(context.Background(), GetPrerequisiteQuery{Tree: tree, Path: programtree.BuildPath(s.root.ID, s.core.ID).String()})
	assert.ErrorIs(t, err, shared.ErrNotALearningUnit)
}

func TestAdjacencyHandler(t *testing.T) {
	s := seed(t)
	h := NewAdjacencyHandler(memory.NewLinkStore(s.store), quiet())
	ctx := context.Background()

	records, err := h.AdjacencyList(ctx, []int64{s.root.ID})
	require.NoError(t, err)
	assert.Len(t, records, 3)

	records, err = h.AdjacencyList(ctx, nil)
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)

	roots, err := h.RootList(ctx, programtree.RootQuery{ChildIDs: []int64{s.first.ID}})
	require.NoError(t, err)
	assert.Equal(t, []programtree.RootRecord{{ChildID: s.first.ID, RootID: s.root.ID}}, roots)

	_, err = h.ReverseAdjacencyList(ctx, programtree.ReverseQuery{})
	assert.ErrorIs(t, err, shared.ErrMissingQueryFilter)

	_, err = h.RootList(ctx, programtree.RootQuery{})
	assert.ErrorIs(t, err, shared.ErrMissingQueryFilter)
}

func TestSearchTreesFromChildren(t *testing.T) {
	s := seed(t)
	h := NewSearchTreesFromChildrenHandler(s.trees, quiet())

	out, err := h.Handle(context.Background(), SearchTreesFromChildrenQuery{NodeIDs: []int64{s.first.ID}})

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "LBIR100B", out[0].Code)
	assert.Equal(t, []programtree.Path{programtree.BuildPath(s.root.ID, s.core.ID, s.first.ID)}, out[0].Paths[s.first.ID])

	_, err = h.Handle(context.Background(), SearchTreesFromChildrenQuery{})
	assert.True(t, shared.IsInvalidInput(err))
}

func TestVersionHandler(t *testing.T) {
	st := memory.NewStore()
	repo := memory.NewTreeVersionRepository(st)
	ctx := context.Background()
	for _, year := range []int{2022, 2023, 2024} {
		v, err := treeversion.New(treeversion.Identity{OfferAcronym: "BIR1BA", Year: year},
			programtree.TreeIdentity{Code: "LBIR100B", Year: year}, "FR", "EN", nil)
		require.NoError(t, err)
		_, err = repo.Create(ctx, v)
		require.NoError(t, err)
	}
	h := NewVersionHandler(repo, quiet())

	last, err := h.GetLastInPast(ctx, treeversion.Identity{OfferAcronym: "BIR1BA", Year: 2024})
	require.NoError(t, err)
	assert.Equal(t, 2023, last.Year)

	all, err := h.SearchAllFromRoot(ctx, "LBIR100B", 2023)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 2023, all[0].Year)

	_, err = h.Get(ctx, treeversion.Identity{OfferAcronym: "BIR1BA", Year: 2030})
	assert.True(t, shared.IsNotFound(err))

	_, err = h.SearchAllFromRoot(ctx, "", 2023)
	assert.True(t, shared.IsInvalidInput(err))
}
