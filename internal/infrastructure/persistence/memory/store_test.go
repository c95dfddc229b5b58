package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osis-hub/program-hub/internal/domain/programtree"
	"github.com/osis-hub/program-hub/internal/domain/shared"
	"github.com/osis-hub/program-hub/internal/domain/treeversion"
)

// seedTree persists BIR1BA -> LBIR100T -> {LBIR150T -> LBIR1110, LBIR1120}
// and a second training LBIR2BA sharing LBIR150T.
func seedTree(t *testing.T, store *Store) map[string]int64 {
	t.Helper()
	ctx := context.Background()
	repo := NewProgramTreeRepository(store)

	root := programtree.NewNode(0, "BIR1BA", 2024, "Bachelor", programtree.TypeBachelor)
	core := programtree.NewNode(0, "LBIR100T", 2024, "Common core", programtree.TypeCommonCore)
	sub := programtree.NewNode(0, "LBIR150T", 2024, "Chemistry", programtree.TypeSubGroup)
	lu1 := programtree.NewNode(0, "LBIR1110", 2024, "General chemistry", programtree.TypeLearningUnit)
	lu2 := programtree.NewNode(0, "LBIR1120", 2024, "Physics", programtree.TypeLearningUnit)
	root.AddChild(programtree.NewLink(core, programtree.DefaultLinkAttributes()))
	core.AddChild(programtree.NewLink(sub, programtree.DefaultLinkAttributes()))
	core.AddChild(programtree.NewLink(lu2, programtree.DefaultLinkAttributes()))
	sub.AddChild(programtree.NewLink(lu1, programtree.DefaultLinkAttributes()))
	_, err := repo.Create(ctx, programtree.New(root))
	require.NoError(t, err)

	other := programtree.NewNode(0, "BIR2BA", 2024, "Second bachelor", programtree.TypeBachelor)
	ref := programtree.DefaultLinkAttributes()
	ref.LinkType = programtree.LinkTypeReference
	other.AddChild(programtree.NewLink(sub, ref))
	_, err = repo.Create(ctx, programtree.New(other))
	require.NoError(t, err)

	return map[string]int64{
		"BIR1BA": root.ID, "LBIR100T": core.ID, "LBIR150T": sub.ID,
		"LBIR1110": lu1.ID, "LBIR1120": lu2.ID, "BIR2BA": other.ID,
	}
}

func TestProgramTreeRepository_RoundTrip(t *testing.T) {
	store := NewStore()
	ids := seedTree(t, store)
	repo := NewProgramTreeRepository(store)

	tree, err := repo.Get(context.Background(), programtree.TreeIdentity{Code: "BIR1BA", Year: 2024})

	require.NoError(t, err)
	assert.Equal(t, ids["BIR1BA"], tree.Root.ID)
	core := tree.Root.Children()[0].Child
	require.Equal(t, 2, core.ChildCount())
	assert.Equal(t, "LBIR150T", core.Children()[0].Child.Code)
	assert.Equal(t, "LBIR1120", core.Children()[1].Child.Code)
	assert.Len(t, tree.LearningUnits(), 2)
	assert.Empty(t, tree.ChangedNodes())

	_, err = repo.Get(context.Background(), programtree.TreeIdentity{Code: "NOPE", Year: 2024})
	assert.ErrorIs(t, err, shared.ErrProgramTreeNotFound)
}

func TestProgramTreeRepository_UpdatePersistsDiff(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	ids := seedTree(t, store)
	repo := NewProgramTreeRepository(store)
	tree, err := repo.Get(ctx, programtree.TreeIdentity{Code: "BIR1BA", Year: 2024})
	require.NoError(t, err)

	_, err = tree.Detach(programtree.BuildPath(ids["BIR1BA"], ids["LBIR100T"], ids["LBIR150T"]), nil)
	require.NoError(t, err)
	lu3 := programtree.NewNode(0, "LBIR1130", 2024, "Maths", programtree.TypeLearningUnit)
	_, err = tree.Attach(programtree.BuildPath(ids["BIR1BA"], ids["LBIR100T"]), lu3, programtree.DefaultLinkAttributes(), nil)
	require.NoError(t, err)
	_, err = repo.Update(ctx, tree)
	require.NoError(t, err)

	reloaded, err := repo.Get(ctx, tree.Identity())
	require.NoError(t, err)
	core := reloaded.Root.Children()[0].Child
	require.Equal(t, 2, core.ChildCount())
	assert.Equal(t, "LBIR1120", core.Children()[0].Child.Code)
	assert.Equal(t, 0, core.Children()[0].Order)
	assert.Equal(t, "LBIR1130", core.Children()[1].Child.Code)
	assert.NotZero(t, lu3.ID)

	// LBIR150T is still used by BIR2BA.
	other, err := repo.GetByNodeID(ctx, ids["BIR2BA"])
	require.NoError(t, err)
	assert.True(t, other.Contains(ids["LBIR1110"]))
}

func TestProgramTreeRepository_Prerequisites(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	ids := seedTree(t, store)
	repo := NewProgramTreeRepository(store)
	tree, err := repo.Get(ctx, programtree.TreeIdentity{Code: "BIR1BA", Year: 2024})
	require.NoError(t, err)

	_, err = tree.SetPrerequisite(programtree.BuildPath(ids["BIR1BA"], ids["LBIR100T"], ids["LBIR1120"]), "LBIR1110")
	require.NoError(t, err)
	_, err = repo.Update(ctx, tree)
	require.NoError(t, err)

	prereqs := NewPrerequisiteRepository(store)
	all, err := prereqs.SearchByTree(ctx, ids["BIR1BA"])
	require.NoError(t, err)
	require.Len(t, all, 1)

	reloaded, err := repo.Get(ctx, tree.Identity())
	require.NoError(t, err)
	lu, _ := reloaded.FindNode("LBIR1120", 2024)
	assert.Equal(t, "LBIR1110", reloaded.Prerequisite(lu).String())
}

func TestStore_WithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	nodes := NewNodeRepository(store)
	boom := errors.New("boom")

	err := store.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, nodes.Save(ctx, programtree.NewNode(0, "LBIR1110", 2024, "LU", programtree.TypeLearningUnit)))
		exists, err := nodes.CodeExists(ctx, "LBIR1110", 2024)
		require.NoError(t, err)
		assert.True(t, exists)
		return boom
	})

	assert.ErrorIs(t, err, boom)
	exists, err := nodes.CodeExists(ctx, "LBIR1110", 2024)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStore_WithinTxRollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	nodes := NewNodeRepository(store)

	assert.Panics(t, func() {
		_ = store.WithinTx(ctx, func(ctx context.Context) error {
			_ = nodes.Save(ctx, programtree.NewNode(0, "LBIR1110", 2024, "LU", programtree.TypeLearningUnit))
			panic("boom")
		})
	})

	exists, err := nodes.CodeExists(ctx, "LBIR1110", 2024)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestNodeRepository(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	nodes := NewNodeRepository(store)
	lu2024 := programtree.NewNode(0, "LBIR1110", 2024, "LU", programtree.TypeLearningUnit)
	lu2025 := programtree.NewNode(0, "LBIR1110", 2025, "LU", programtree.TypeLearningUnit)
	require.NoError(t, nodes.Save(ctx, lu2024))
	require.NoError(t, nodes.Save(ctx, lu2025))

	got, err := nodes.GetByCode(ctx, "LBIR1110", 2025)
	require.NoError(t, err)
	assert.Equal(t, lu2025.ID, got.ID)

	byYear, err := nodes.ElementIDsByYear(ctx, []int64{lu2024.ID, 999})
	require.NoError(t, err)
	assert.Equal(t, map[int64]map[int]int64{lu2024.ID: {2024: lu2024.ID, 2025: lu2025.ID}}, byYear)

	dup := programtree.NewNode(0, "LBIR1110", 2024, "LU", programtree.TypeLearningUnit)
	assert.ErrorIs(t, nodes.Save(ctx, dup), shared.ErrNodeAlreadyExists)

	_, err = nodes.GetByID(ctx, 999)
	assert.True(t, shared.IsNotFound(err))
}

func TestTreeVersionRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewTreeVersionRepository(NewStore())
	tree := programtree.TreeIdentity{Code: "LBIR100B", Year: 2023}
	v, err := treeversion.New(treeversion.Identity{OfferAcronym: "BIR1BA", Year: 2023}, tree, "FR", "EN", nil)
	require.NoError(t, err)

	_, err = repo.Create(ctx, v)
	require.NoError(t, err)
	_, err = repo.Create(ctx, v)
	assert.ErrorIs(t, err, shared.ErrTreeVersionAlreadyExists)
	_, err = repo.Create(ctx, v.CopyToYear(2025))
	require.NoError(t, err)

	last, err := repo.GetLastInPast(ctx, v.Identity.InYear(2026))
	require.NoError(t, err)
	assert.Equal(t, 2025, last.Year)

	_, err = repo.GetLastInPast(ctx, v.Identity)
	assert.True(t, shared.IsNotFound(err))

	versions, err := repo.SearchAllVersionsFromRoot(ctx, "LBIR100B", 2023)
	require.NoError(t, err)
	assert.Len(t, versions, 1)

	require.NoError(t, repo.Delete(ctx, v.Identity))
	_, err = repo.Get(ctx, v.Identity)
	assert.ErrorIs(t, err, shared.ErrTreeVersionNotFound)
}
