package command

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osis-hub/program-hub/internal/domain/programtree"
	"github.com/osis-hub/program-hub/internal/domain/shared"
	"github.com/osis-hub/program-hub/internal/domain/treeversion"
	"github.com/osis-hub/program-hub/internal/infrastructure/persistence/memory"
	"github.com/osis-hub/program-hub/internal/infrastructure/rules"
	"github.com/osis-hub/program-hub/pkg/logger"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

type fixture struct {
	store     VersionStore
	rules     *rules.Catalogue
	publisher *recordingPublisher
	log       *logger.Logger
}

var bachelor = programtree.TreeIdentity{Code: "LBIR100B", Year: 2024}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.NewStore()
	catalogue, err := rules.Default()
	require.NoError(t, err)
	return &fixture{
		store: VersionStore{
			TreeStore: TreeStore{
				Tx:    st,
				Trees: memory.NewProgramTreeRepository(st),
				Nodes: memory.NewNodeRepository(st),
			},
			Versions: memory.NewTreeVersionRepository(st),
		},
		rules:     catalogue,
		publisher: &recordingPublisher{},
		log:       logger.New(logger.Options{Output: io.Discard}),
	}
}

func intPtr(v int) *int { return &v }

// createBachelor creates the standard version of BIR1BA in year and returns it.
func (f *fixture) createBachelor(t *testing.T, year int, endYear *int) *VersionResult {
	t.Helper()
	h := NewCreateStandardVersionHandler(f.store, f.rules, f.rules, f.publisher, f.log)
	result, err := h.Handle(context.Background(), CreateStandardVersionCommand{
		OfferAcronym: "BIR1BA",
		Year:         year,
		RootCode:     bachelor.Code,
		RootTitle:    "Bachelier bioingenieur",
		RootType:     programtree.TypeBachelor,
		TitleFR:      "Bachelier en sciences de l'ingenieur",
		EndYear:      endYear,
	})
	require.NoError(t, err)
	return result
}

func (f *fixture) saveNode(t *testing.T, code string, year int, nodeType programtree.NodeType) *programtree.Node {
	t.Helper()
	n := programtree.NewNode(0, code, year, code, nodeType)
	require.NoError(t, f.store.Nodes.Save(context.Background(), n))
	return n
}

func (f *fixture) tree(t *testing.T, id programtree.TreeIdentity) *programtree.ProgramTree {
	t.Helper()
	tree, err := f.store.Trees.Get(context.Background(), id)
	require.NoError(t, err)
	return tree
}

// corePath returns the path of the generated common core of the bachelor.
func (f *fixture) corePath(t *testing.T, id programtree.TreeIdentity) programtree.Path {
	t.Helper()
	tree := f.tree(t, id)
	core, ok := tree.FindNode("LBIR101T", id.Year)
	require.True(t, ok, "common core not generated")
	return programtree.BuildPath(tree.Root.ID, core.ID)
}

func (f *fixture) attach(t *testing.T, parent programtree.Path, code string) *AttachNodeResult {
	t.Helper()
	h := NewAttachNodeHandler(f.store.TreeStore, f.rules, f.publisher, f.log)
	result, err := h.Handle(context.Background(), AttachNodeCommand{
		Tree:       bachelor,
		ParentPath: parent.String(),
		ChildCode:  code,
		ChildYear:  bachelor.Year,
	})
	require.NoError(t, err)
	return result
}

func TestCreateStandardVersion(t *testing.T) {
	f := newFixture(t)

	result := f.createBachelor(t, 2024, nil)

	assert.Equal(t, treeversion.Identity{OfferAcronym: "BIR1BA", Year: 2024}, result.Identity)
	assert.Equal(t, bachelor, result.Tree)
	assert.NotZero(t, result.RootID)
	assert.ElementsMatch(t, []programtree.NodeIdentity{
		{Code: "LBIR100B", Year: 2024},
		{Code: "LBIR101T", Year: 2024},
	}, result.CreatedNodes)

	tree := f.tree(t, bachelor)
	core, ok := tree.FindNode("LBIR101T", 2024)
	require.True(t, ok)
	assert.Equal(t, programtree.TypeCommonCore, core.Type)
	assert.Equal(t, "TRONCCOMMUNBachelier bioingenieur", core.Title)

	v, err := f.store.Versions.Get(context.Background(), result.Identity)
	require.NoError(t, err)
	assert.Equal(t, "Bachelier en sciences de l'ingenieur", v.TitleFR)
	assert.Equal(t, []shared.EventType{shared.EventTreeVersionCreated}, f.publisher.types())
}

func TestCreateStandardVersion_Rejections(t *testing.T) {
	f := newFixture(t)
	f.createBachelor(t, 2024, nil)
	h := NewCreateStandardVersionHandler(f.store, f.rules, f.rules, f.publisher, f.log)

	t.Run("root already exists", func(t *testing.T) {
		_, err := h.Handle(context.Background(), CreateStandardVersionCommand{
			OfferAcronym: "BIR1BX", Year: 2024, RootCode: bachelor.Code, RootType: programtree.TypeBachelor,
		})
		assert.True(t, shared.IsAlreadyExists(err))
	})

	t.Run("learning unit root", func(t *testing.T) {
		_, err := h.Handle(context.Background(), CreateStandardVersionCommand{
			OfferAcronym: "X", Year: 2024, RootCode: "LBIR1110", RootType: programtree.TypeLearningUnit,
		})
		assert.True(t, shared.IsInvalidInput(err))
	})

	t.Run("end year before year", func(t *testing.T) {
		_, err := h.Handle(context.Background(), CreateStandardVersionCommand{
			OfferAcronym: "X", Year: 2024, RootCode: "LX100B", RootType: programtree.TypeBachelor, EndYear: intPtr(2020),
		})
		assert.ErrorIs(t, err, shared.ErrEndYearBeforeYear)
	})

	_, err := f.store.Nodes.GetByCode(context.Background(), "LX100B", 2024)
	assert.True(t, shared.IsNotFound(err))
}

func TestAttachNode(t *testing.T) {
	f := newFixture(t)
	f.createBachelor(t, 2024, nil)
	lu := f.saveNode(t, "LBIR1110", 2024, programtree.TypeLearningUnit)
	core := f.corePath(t, bachelor)
	f.publisher.reset()

	result := f.attach(t, core, "LBIR1110")

	assert.Equal(t, core.Append(lu.ID), result.Path)
	assert.Equal(t, programtree.LinkTypeStandard, result.LinkType)
	assert.Zero(t, result.Order)
	assert.NotZero(t, result.LinkID)

	node, err := f.tree(t, bachelor).NodeAt(result.Path)
	require.NoError(t, err)
	assert.Equal(t, "LBIR1110", node.Code)
	assert.Equal(t, []shared.EventType{shared.EventLinkAttached}, f.publisher.types())
}

func TestAttachNode_Rejections(t *testing.T) {
	f := newFixture(t)
	f.createBachelor(t, 2024, nil)
	f.saveNode(t, "LBIR200G", 2024, programtree.TypeSubGroup)
	f.saveNode(t, "LBIR1110", 2024, programtree.TypeLearningUnit)
	core := f.corePath(t, bachelor)
	h := NewAttachNodeHandler(f.store.TreeStore, f.rules, f.publisher, f.log)
	f.publisher.reset()

	t.Run("unauthorized relationship", func(t *testing.T) {
		_, err := h.Handle(context.Background(), AttachNodeCommand{
			Tree: bachelor, ParentPath: core.Parent().String(), ChildCode: "LBIR200G", ChildYear: 2024,
		})
		require.True(t, shared.IsValidation(err))
		be, ok := shared.AsBusinessExceptions(err)
		require.True(t, ok)
		assert.Contains(t, be.Messages, "The child SUB_GROUP is not authorized under BACHELOR")
	})

	t.Run("unknown child", func(t *testing.T) {
		_, err := h.Handle(context.Background(), AttachNodeCommand{
			Tree: bachelor, ParentPath: core.String(), ChildCode: "LNOPE1000", ChildYear: 2024,
		})
		assert.True(t, shared.IsNotFound(err))
	})

	t.Run("malformed path", func(t *testing.T) {
		_, err := h.Handle(context.Background(), AttachNodeCommand{
			Tree: bachelor, ParentPath: "12|x", ChildCode: "LBIR1110", ChildYear: 2024,
		})
		assert.True(t, shared.IsInvalidInput(err))
	})

	t.Run("duplicate attach", func(t *testing.T) {
		f.attach(t, core, "LBIR1110")
		_, err := h.Handle(context.Background(), AttachNodeCommand{
			Tree: bachelor, ParentPath: core.String(), ChildCode: "LBIR1110", ChildYear: 2024,
		})
		assert.True(t, shared.IsConflict(err))
	})

	assert.Equal(t, []shared.EventType{shared.EventLinkAttached}, f.publisher.types())
}

func TestDetachNode(t *testing.T) {
	f := newFixture(t)
	f.createBachelor(t, 2024, nil)
	f.saveNode(t, "LBIR1110", 2024, programtree.TypeLearningUnit)
	core := f.corePath(t, bachelor)
	attached := f.attach(t, core, "LBIR1110")
	h := NewDetachNodeHandler(f.store.TreeStore, f.rules, f.publisher, f.log)

	result, err := h.Handle(context.Background(), DetachNodeCommand{Tree: bachelor, Path: attached.Path.String()})

	require.NoError(t, err)
	assert.Equal(t, core.Last(), result.ParentID)
	_, err = f.tree(t, bachelor).NodeAt(attached.Path)
	assert.True(t, shared.IsNotFound(err))

	_, err = h.Handle(context.Background(), DetachNodeCommand{Tree: bachelor, Path: core.String()})
	assert.True(t, shared.IsValidation(err), "the common core is mandatory")

	_, err = h.Handle(context.Background(), DetachNodeCommand{Tree: bachelor, Path: core.Parent().String()})
	assert.ErrorIs(t, err, shared.ErrCannotDetachRoot)
}

func TestMoveNode(t *testing.T) {
	f := newFixture(t)
	f.createBachelor(t, 2024, nil)
	f.saveNode(t, "LBIR200G", 2024, programtree.TypeSubGroup)
	lu := f.saveNode(t, "LBIR1110", 2024, programtree.TypeLearningUnit)
	core := f.corePath(t, bachelor)
	group := f.attach(t, core, "LBIR200G")
	unit := f.attach(t, core, "LBIR1110")
	f.publisher.reset()

	h := NewMoveNodeHandler(f.store.TreeStore, f.rules, f.publisher, f.log)
	result, err := h.Handle(context.Background(), MoveNodeCommand{
		Tree: bachelor, FromPath: unit.Path.String(), ToParentPath: group.Path.String(),
	})

	require.NoError(t, err)
	assert.Equal(t, group.Path.Append(lu.ID), result.Path)

	tree := f.tree(t, bachelor)
	_, err = tree.NodeAt(unit.Path)
	assert.True(t, shared.IsNotFound(err))
	_, err = tree.NodeAt(result.Path)
	assert.NoError(t, err)
	assert.Equal(t, []shared.EventType{shared.EventLinkMoved}, f.publisher.types())

	_, err = h.Handle(context.Background(), MoveNodeCommand{
		Tree: bachelor, FromPath: group.Path.String(), ToParentPath: result.Path.String(),
	})
	assert.True(t, shared.IsValidation(err), "a group cannot move under its own descendant: %v", err)
}

func TestUpdateLink(t *testing.T) {
	f := newFixture(t)
	f.createBachelor(t, 2024, nil)
	f.saveNode(t, "LBIR1110", 2024, programtree.TypeLearningUnit)
	unit := f.attach(t, f.corePath(t, bachelor), "LBIR1110")
	h := NewUpdateLinkHandler(f.store.TreeStore, f.publisher, f.log)

	attrs := programtree.DefaultLinkAttributes()
	attrs.RelativeCredits = intPtr(5)
	attrs.Block = 12
	attrs.Comment = "premier quadrimestre"
	_, err := h.Handle(context.Background(), UpdateLinkCommand{Tree: bachelor, Path: unit.Path.String(), Attributes: attrs})
	require.NoError(t, err)

	link, err := f.tree(t, bachelor).LinkAt(unit.Path)
	require.NoError(t, err)
	assert.Equal(t, 5, *link.RelativeCredits)
	assert.Equal(t, programtree.Block(12), link.Block)
	assert.Equal(t, "premier quadrimestre", link.Comment)

	attrs.Block = 31
	_, err = h.Handle(context.Background(), UpdateLinkCommand{Tree: bachelor, Path: unit.Path.String(), Attributes: attrs})
	assert.True(t, shared.IsValidation(err))
}

func TestSetPrerequisite(t *testing.T) {
	f := newFixture(t)
	f.createBachelor(t, 2024, nil)
	f.saveNode(t, "LBIR1110", 2024, programtree.TypeLearningUnit)
	f.saveNode(t, "LBIR1120", 2024, programtree.TypeLearningUnit)
	core := f.corePath(t, bachelor)
	first := f.attach(t, core, "LBIR1110")
	f.attach(t, core, "LBIR1120")
	f.publisher.reset()
	h := NewSetPrerequisiteHandler(f.store.TreeStore, f.publisher, f.log)

	result, err := h.Handle(context.Background(), SetPrerequisiteCommand{Tree: bachelor, Path: first.Path.String(), Expression: "lbir1120"})

	require.NoError(t, err)
	assert.Equal(t, SetPrerequisiteResult{Code: "LBIR1110", Year: 2024, Expression: "LBIR1120"}, *result)
	tree := f.tree(t, bachelor)
	unit, _ := tree.FindNode("LBIR1110", 2024)
	assert.True(t, tree.HasPrerequisite(unit))
	assert.Equal(t, []shared.EventType{shared.EventPrerequisiteUpdated}, f.publisher.types())

	_, err = h.Handle(context.Background(), SetPrerequisiteCommand{Tree: bachelor, Path: first.Path.String(), Expression: "LBIR9999"})
	assert.True(t, shared.IsValidation(err))
}

func TestPostponeVersion(t *testing.T) {
	f := newFixture(t)
	f.createBachelor(t, 2024, intPtr(2026))
	f.saveNode(t, "LBIR1110", 2024, programtree.TypeLearningUnit)
	f.saveNode(t, "LBIR1110", 2025, programtree.TypeLearningUnit)
	f.attach(t, f.corePath(t, bachelor), "LBIR1110")
	f.publisher.reset()

	clock := func() time.Time { return time.Date(2024, time.October, 1, 0, 0, 0, 0, time.UTC) }
	h := NewPostponeVersionHandler(f.store, 0, clock, f.publisher, f.log)
	source := treeversion.Identity{OfferAcronym: "BIR1BA", Year: 2024}

	result, err := h.Handle(context.Background(), PostponeVersionCommand{Version: source})

	require.NoError(t, err)
	assert.Equal(t, []treeversion.Identity{source.InYear(2025), source.InYear(2026)}, result.Created)
	assert.Empty(t, result.SkippedYears)

	next := f.tree(t, programtree.TreeIdentity{Code: bachelor.Code, Year: 2025})
	_, ok := next.FindNode("LBIR101T", 2025)
	assert.True(t, ok, "groups are copied")
	_, ok = next.FindNode("LBIR1110", 2025)
	assert.True(t, ok, "existing learning units are reused")

	last := f.tree(t, programtree.TreeIdentity{Code: bachelor.Code, Year: 2026})
	_, ok = last.FindNode("LBIR1110", 2026)
	assert.True(t, ok, "learning units still offered are cloned")
	assert.Len(t, last.AllLinks(), len(f.tree(t, bachelor).AllLinks()), "no link is lost")
	assert.Equal(t, []shared.EventType{shared.EventTreeVersionPostponed}, f.publisher.types())

	t.Run("second run skips existing years", func(t *testing.T) {
		again, err := h.Handle(context.Background(), PostponeVersionCommand{Version: source})
		require.NoError(t, err)
		assert.Empty(t, again.Created)
		assert.Equal(t, []int{2025, 2026}, again.SkippedYears)
	})

	t.Run("until year before the version", func(t *testing.T) {
		_, err := h.Handle(context.Background(), PostponeVersionCommand{Version: source, UntilYear: 2024})
		assert.True(t, shared.IsInvalidInput(err))
	})
}

// racingVersions reports every create as lost to a concurrent writer.
type racingVersions struct {
	treeversion.Repository
	creates int
}

func (r *racingVersions) Create(context.Context, *treeversion.ProgramTreeVersion) (treeversion.Identity, error) {
	r.creates++
	return treeversion.Identity{}, errors.Join(shared.ErrTreeVersionAlreadyExists, shared.ErrConcurrentModification)
}

func TestPostponeVersion_ExistingYearIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.createBachelor(t, 2024, nil)
	versions := &racingVersions{Repository: f.store.Versions}
	store := f.store
	store.Versions = versions
	clock := func() time.Time { return time.Date(2024, time.October, 1, 0, 0, 0, 0, time.UTC) }
	h := NewPostponeVersionHandler(store, 0, clock, f.publisher, f.log)

	result, err := h.Handle(context.Background(), PostponeVersionCommand{
		Version:   treeversion.Identity{OfferAcronym: "BIR1BA", Year: 2024},
		UntilYear: 2025,
	})

	require.NoError(t, err)
	assert.Equal(t, 1, versions.creates)
	assert.Equal(t, []int{2025}, result.SkippedYears)
	assert.Empty(t, result.Created)
	_, err = f.store.Trees.Get(context.Background(), programtree.TreeIdentity{Code: bachelor.Code, Year: 2025})
	assert.True(t, shared.IsNotFound(err), "the lost year is rolled back")
}

func TestPostponeVersion_HorizonWithoutEndYear(t *testing.T) {
	f := newFixture(t)
	f.createBachelor(t, 2024, nil)
	clock := func() time.Time { return time.Date(2024, time.October, 1, 0, 0, 0, 0, time.UTC) }
	h := NewPostponeVersionHandler(f.store, 2, clock, f.publisher, f.log)

	result, err := h.Handle(context.Background(), PostponeVersionCommand{Version: treeversion.Identity{OfferAcronym: "BIR1BA", Year: 2024}})

	require.NoError(t, err)
	assert.Len(t, result.Created, 2)
	_, err = f.store.Versions.Get(context.Background(), treeversion.Identity{OfferAcronym: "BIR1BA", Year: 2027})
	assert.True(t, shared.IsNotFound(err))
}

func TestCreateSpecificVersion(t *testing.T) {
	f := newFixture(t)
	f.createBachelor(t, 2024, nil)
	standard := f.tree(t, bachelor)
	h := NewCreateSpecificVersionHandler(f.store, f.publisher, f.log)

	result, err := h.Handle(context.Background(), CreateSpecificVersionCommand{
		OfferAcronym: "BIR1BA", Year: 2024, VersionName: "ddsherbrooke", TitleFR: "Double diplome",
	})

	require.NoError(t, err)
	assert.Equal(t, shared.VersionName("DDSHERBROOKE"), result.Identity.VersionName)
	assert.Equal(t, programtree.TreeIdentity{Code: "LBIR100B-DDSHERBROOKE", Year: 2024}, result.Tree)

	specific := f.tree(t, result.Tree)
	require.Equal(t, standard.Root.ChildCount(), specific.Root.ChildCount())
	assert.Equal(t, standard.Root.Children()[0].Child.ID, specific.Root.Children()[0].Child.ID, "children are shared, not copied")

	_, err = h.Handle(context.Background(), CreateSpecificVersionCommand{OfferAcronym: "BIR1BA", Year: 2024, VersionName: "STANDARD"})
	assert.True(t, shared.IsInvalidInput(err))

	_, err = h.Handle(context.Background(), CreateSpecificVersionCommand{OfferAcronym: "BIR1BA", Year: 2030, VersionName: "X"})
	assert.True(t, shared.IsNotFound(err))
}

func TestUpdateVersion(t *testing.T) {
	f := newFixture(t)
	created := f.createBachelor(t, 2024, nil)
	h := NewUpdateVersionHandler(f.store, f.log)

	v, err := h.Handle(context.Background(), UpdateVersionCommand{Version: created.Identity, TitleFR: "Nouveau", EndYear: intPtr(2025)})
	require.NoError(t, err)
	assert.Equal(t, "Nouveau", v.TitleFR)

	root, err := f.store.Nodes.GetByCode(context.Background(), bachelor.Code, 2024)
	require.NoError(t, err)
	require.NotNil(t, root.EndYear)
	assert.Equal(t, 2025, *root.EndYear)

	_, err = h.Handle(context.Background(), UpdateVersionCommand{Version: created.Identity, EndYear: intPtr(2023)})
	assert.True(t, shared.IsInvalidInput(err))
}

func TestExtendEndYear(t *testing.T) {
	f := newFixture(t)
	created := f.createBachelor(t, 2024, intPtr(2024))
	clock := func() time.Time { return time.Date(2024, time.October, 1, 0, 0, 0, 0, time.UTC) }
	postpone := NewPostponeVersionHandler(f.store, 0, clock, f.publisher, f.log)
	h := NewExtendEndYearHandler(f.store, postpone, f.log)

	result, err := h.Handle(context.Background(), ExtendEndYearCommand{Version: created.Identity, NewEndYear: 2025})

	require.NoError(t, err)
	assert.Equal(t, []treeversion.Identity{created.Identity.InYear(2025)}, result.Created)
	v, err := f.store.Versions.Get(context.Background(), created.Identity.InYear(2025))
	require.NoError(t, err)
	assert.Equal(t, 2025, *v.EndYear)
}

func TestDeleteVersion(t *testing.T) {
	f := newFixture(t)
	created := f.createBachelor(t, 2024, nil)
	f.publisher.reset()
	h := NewDeleteVersionHandler(f.store, f.publisher, f.log)

	require.NoError(t, h.Handle(context.Background(), DeleteVersionCommand{Version: created.Identity}))

	_, err := f.store.Versions.Get(context.Background(), created.Identity)
	assert.True(t, shared.IsNotFound(err))
	assert.Zero(t, f.tree(t, bachelor).Root.ChildCount())
	_, err = f.store.Nodes.GetByCode(context.Background(), "LBIR101T", 2024)
	assert.NoError(t, err, "nodes are kept")
	assert.Equal(t, []shared.EventType{shared.EventTreeVersionDeleted}, f.publisher.types())

	err = h.Handle(context.Background(), DeleteVersionCommand{Version: created.Identity})
	assert.True(t, shared.IsNotFound(err))
}
