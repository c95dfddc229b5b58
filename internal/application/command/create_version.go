package command

import (
	"context"
	"fmt"
	"time"

	"github.com/osis-hub/program-hub/internal/domain/programtree"
	"github.com/osis-hub/program-hub/internal/domain/shared"
	"github.com/osis-hub/program-hub/internal/domain/treeversion"
	"github.com/osis-hub/program-hub/pkg/logger"
)

// VersionStore extends TreeStore with the version repository.
type VersionStore struct {
	TreeStore
	Versions treeversion.Repository
}

// VersionResult describes a created version.
type VersionResult struct {
	Identity     treeversion.Identity       `json:"identity"`
	Tree         programtree.TreeIdentity   `json:"tree"`
	RootID       int64                      `json:"root_id"`
	CreatedNodes []programtree.NodeIdentity `json:"created_nodes,omitempty"`
}

func validateEndYear(op string, year int, endYear *int) error {
	if endYear != nil && *endYear < year {
		return shared.WrapError("command", op, shared.ErrValueOutOfRange, "end year cannot be before the version year", shared.ErrEndYearBeforeYear)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CREATE STANDARD VERSION
// Creates the root node of a new training, its mandatory children and the
// standard version pointing at it.
// ══════════════════════════════════════════════════════════════════════════════

// CreateStandardVersionCommand contains the data to create a standard version.
type CreateStandardVersionCommand struct {
	OfferAcronym string
	Year         int
	IsTransition bool

	RootCode  string
	RootTitle string
	RootType  programtree.NodeType

	TitleFR string
	TitleEN string
	EndYear *int
}

// Validate validates the command.
func (c CreateStandardVersionCommand) Validate() error {
	if c.OfferAcronym == "" {
		return invalid("CreateStandardVersion", "offer acronym is required")
	}
	if _, err := shared.NewAcademicYear(c.Year); err != nil {
		return invalid("CreateStandardVersion", fmt.Sprintf("year: %v", err))
	}
	if _, err := shared.NewCode(c.RootCode); err != nil {
		return invalid("CreateStandardVersion", fmt.Sprintf("root code: %v", err))
	}
	t, err := programtree.ParseNodeType(string(c.RootType))
	if err != nil {
		return invalid("CreateStandardVersion", err.Error())
	}
	if t.IsLearningUnit() {
		return invalid("CreateStandardVersion", "a learning unit cannot be the root of a tree")
	}
	return validateEndYear("CreateStandardVersion", c.Year, c.EndYear)
}

// CreateStandardVersionHandler handles the CreateStandardVersionCommand.
type CreateStandardVersionHandler struct {
	store     VersionStore
	rules     programtree.RelationshipRules
	lookup    programtree.ValidationRuleLookup
	publisher shared.EventPublisher
	log       *logger.Logger
}

// NewCreateStandardVersionHandler creates a new CreateStandardVersionHandler.
func NewCreateStandardVersionHandler(
	store VersionStore,
	rules programtree.RelationshipRules,
	lookup programtree.ValidationRuleLookup,
	publisher shared.EventPublisher,
	log *logger.Logger,
) *CreateStandardVersionHandler {
	return &CreateStandardVersionHandler{store: store, rules: rules, lookup: lookup, publisher: publisher, log: orDefault(log)}
}

// Handle executes the command.
func (h *CreateStandardVersionHandler) Handle(ctx context.Context, cmd CreateStandardVersionCommand) (*VersionResult, error) {
	start := time.Now()
	result, err := h.handle(ctx, cmd)
	finish(h.log, "create_standard_version", start, err,
		logger.String("offer_acronym", cmd.OfferAcronym), logger.Year(cmd.Year), logger.TreeCode(cmd.RootCode))
	if err != nil {
		return nil, err
	}
	publish(h.publisher, h.log, shared.NewTreeVersionCreatedEvent(cmd.OfferAcronym, cmd.Year, "", cmd.IsTransition))
	return result, nil
}

func (h *CreateStandardVersionHandler) handle(ctx context.Context, cmd CreateStandardVersionCommand) (*VersionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("create_standard_version: validation failed: %w", err)
	}

	result := &VersionResult{
		Identity: treeversion.Identity{OfferAcronym: cmd.OfferAcronym, Year: cmd.Year, IsTransition: cmd.IsTransition},
		Tree:     programtree.TreeIdentity{Code: cmd.RootCode, Year: cmd.Year},
	}
	err := h.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		v, err := treeversion.New(result.Identity, result.Tree, cmd.TitleFR, cmd.TitleEN, cmd.EndYear)
		if err != nil {
			return err
		}

		root := programtree.NewNode(0, cmd.RootCode, cmd.Year, cmd.RootTitle, cmd.RootType)
		root.EndYear = cmd.EndYear

		var lookupErr error
		used := func(code string) bool {
			exists, err := h.store.Nodes.CodeExists(ctx, code, cmd.Year)
			if err != nil && lookupErr == nil {
				lookupErr = err
			}
			return exists
		}
		tree := programtree.BuildStandardTree(root, h.rules, h.lookup, used)
		if lookupErr != nil {
			return fmt.Errorf("generate codes: %w", lookupErr)
		}

		if _, err := h.store.Trees.Create(ctx, tree); err != nil {
			return fmt.Errorf("create tree: %w", err)
		}
		if _, err := h.store.Versions.Create(ctx, v); err != nil {
			return fmt.Errorf("create version: %w", err)
		}

		result.RootID = root.ID
		for _, n := range tree.AllNodes(nil) {
			result.CreatedNodes = append(result.CreatedNodes, n.Identity())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create_standard_version: %w", err)
	}
	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CREATE SPECIFIC VERSION
// A specific version gets its own root, coded after the standard root, which
// links to the same children as the standard root.
// ══════════════════════════════════════════════════════════════════════════════

// CreateSpecificVersionCommand contains the data to derive a specific version
// from the standard version of the same offer and year.
type CreateSpecificVersionCommand struct {
	OfferAcronym string
	Year         int
	IsTransition bool
	VersionName  string

	TitleFR string
	TitleEN string
	EndYear *int
}

// Validate validates the command.
func (c CreateSpecificVersionCommand) Validate() error {
	if c.OfferAcronym == "" {
		return invalid("CreateSpecificVersion", "offer acronym is required")
	}
	if _, err := shared.NewAcademicYear(c.Year); err != nil {
		return invalid("CreateSpecificVersion", fmt.Sprintf("year: %v", err))
	}
	name, err := shared.NewVersionName(c.VersionName)
	if err != nil {
		return err
	}
	if name.IsStandard() {
		return invalid("CreateSpecificVersion", "a specific version needs a name")
	}
	return validateEndYear("CreateSpecificVersion", c.Year, c.EndYear)
}

// SpecificRootCode returns the root code of a specific version.
func SpecificRootCode(standardRootCode string, name shared.VersionName) string {
	return standardRootCode + "-" + string(name)
}

// CreateSpecificVersionHandler handles the CreateSpecificVersionCommand.
type CreateSpecificVersionHandler struct {
	store     VersionStore
	publisher shared.EventPublisher
	log       *logger.Logger
}

// NewCreateSpecificVersionHandler creates a new CreateSpecificVersionHandler.
func NewCreateSpecificVersionHandler(store VersionStore, publisher shared.EventPublisher, log *logger.Logger) *CreateSpecificVersionHandler {
	return &CreateSpecificVersionHandler{store: store, publisher: publisher, log: orDefault(log)}
}

// Handle executes the command.
func (h *CreateSpecificVersionHandler) Handle(ctx context.Context, cmd CreateSpecificVersionCommand) (*VersionResult, error) {
	start := time.Now()
	result, err := h.handle(ctx, cmd)
	finish(h.log, "create_specific_version", start, err,
		logger.String("offer_acronym", cmd.OfferAcronym), logger.Year(cmd.Year), logger.VersionName(cmd.VersionName))
	if err != nil {
		return nil, err
	}
	id := result.Identity
	publish(h.publisher, h.log, shared.NewTreeVersionCreatedEvent(id.OfferAcronym, id.Year, string(id.VersionName), id.IsTransition))
	return result, nil
}

func (h *CreateSpecificVersionHandler) handle(ctx context.Context, cmd CreateSpecificVersionCommand) (*VersionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("create_specific_version: validation failed: %w", err)
	}
	name, _ := shared.NewVersionName(cmd.VersionName)

	var result *VersionResult
	err := h.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		standardID := treeversion.Identity{OfferAcronym: cmd.OfferAcronym, Year: cmd.Year, IsTransition: cmd.IsTransition}
		standard, err := h.store.Versions.Get(ctx, standardID)
		if err != nil {
			return fmt.Errorf("load standard version: %w", err)
		}
		source, err := h.store.Trees.Get(ctx, standard.Tree)
		if err != nil {
			return fmt.Errorf("load standard tree: %w", err)
		}

		root := programtree.NewNode(0, SpecificRootCode(source.Root.Code, name), cmd.Year, source.Root.Title, source.Root.Type)
		root.EndYear = cmd.EndYear
		root.Credits = source.Root.Credits
		for _, l := range source.Root.Children() {
			root.AddChild(programtree.NewLink(l.Child, l.LinkAttributes))
		}
		tree := programtree.New(root)

		id := standardID
		id.VersionName = name
		v, err := treeversion.New(id, tree.Identity(), cmd.TitleFR, cmd.TitleEN, cmd.EndYear)
		if err != nil {
			return err
		}

		if _, err := h.store.Trees.Create(ctx, tree); err != nil {
			return fmt.Errorf("create tree: %w", err)
		}
		if _, err := h.store.Versions.Create(ctx, v); err != nil {
			return fmt.Errorf("create version: %w", err)
		}
		result = &VersionResult{
			Identity:     v.Identity,
			Tree:         v.Tree,
			RootID:       root.ID,
			CreatedNodes: []programtree.NodeIdentity{root.Identity()},
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create_specific_version: %w", err)
	}
	return result, nil
}
