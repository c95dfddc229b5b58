package rules

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osis-hub/program-hub/internal/domain/programtree"
	"github.com/osis-hub/program-hub/pkg/logger"
)

const smallRules = `
version: "1"
relationships:
  - {parent: BACHELOR, child: COMMON_CORE, min: 1, max: 1}
  - {parent: BACHELOR, child: MINOR_LIST_CHOICE, max: 2}
  - {parent: COMMON_CORE, child: LEARNING_UNIT}
validation_rules:
  COMMON_CORE.abbreviated_title: "tronc commun"
`

func TestDefault_Parses(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	assert.True(t, c.IsAuthorized(programtree.TypeBachelor, programtree.TypeCommonCore))
	assert.True(t, c.IsAuthorized(programtree.TypeSubGroup, programtree.TypeLearningUnit))
	assert.False(t, c.IsAuthorized(programtree.TypeCommonCore, programtree.TypeBachelor))
	assert.Equal(t, []programtree.NodeType{programtree.TypeCommonCore, programtree.TypeFinalityListChoice},
		c.MandatoryChildren(programtree.TypeMaster120))

	title, ok := c.Get("COMMON_CORE.abbreviated_title")
	assert.True(t, ok)
	assert.Equal(t, "tronc commun", title)
}

func TestCatalogue_Bounds(t *testing.T) {
	c, err := Parse([]byte(smallRules))
	require.NoError(t, err)

	assert.Equal(t, "1", c.Version())
	assert.Equal(t, 1, c.MaxChildren(programtree.TypeBachelor, programtree.TypeCommonCore))
	assert.Equal(t, 2, c.MaxChildren(programtree.TypeBachelor, programtree.TypeMinorListChoice))
	assert.Equal(t, programtree.Unbounded, c.MaxChildren(programtree.TypeCommonCore, programtree.TypeLearningUnit))
	assert.Equal(t, 0, c.MaxChildren(programtree.TypeCommonCore, programtree.TypeSubGroup))
	assert.Equal(t, 1, c.MinChildren(programtree.TypeBachelor, programtree.TypeCommonCore))
	assert.Equal(t, 0, c.MinChildren(programtree.TypeBachelor, programtree.TypeMinorListChoice))
	assert.Equal(t, []programtree.NodeType{programtree.TypeCommonCore}, c.MandatoryChildren(programtree.TypeBachelor))
	assert.Empty(t, c.MandatoryChildren(programtree.TypeCommonCore))
}

func TestParse_ReportsEveryProblem(t *testing.T) {
	_, err := Parse([]byte(`
relationships:
  - {parent: NOPE, child: COMMON_CORE}
  - {parent: BACHELOR, child: COMMON_CORE, min: 2, max: 1}
  - {parent: LEARNING_UNIT, child: SUB_GROUP}
  - {parent: COMMON_CORE, child: SUB_GROUP}
  - {parent: COMMON_CORE, child: SUB_GROUP}
validation_rules:
  title: "x"
`))
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "version is required")
	assert.Contains(t, msg, "relationships[0].parent")
	assert.Contains(t, msg, "max 1 is lower than min 2")
	assert.Contains(t, msg, "a learning unit cannot have children")
	assert.Contains(t, msg, "duplicate relationship COMMON_CORE -> SUB_GROUP")
	assert.Contains(t, msg, `field reference "title"`)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("relationships: ["))
	assert.ErrorContains(t, err, "parse rules")
}

func writeRules(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func quietLogger() *logger.Logger {
	return logger.New(logger.Options{Output: io.Discard})
}

func TestLoader_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	writeRules(t, path, smallRules)

	l, err := NewLoader(path, quietLogger())
	require.NoError(t, err)
	assert.False(t, l.IsAuthorized(programtree.TypeCommonCore, programtree.TypeSubGroup))

	var notified *Catalogue
	l.OnChange(func(c *Catalogue) { notified = c })

	writeRules(t, path, `
version: "2"
relationships:
  - {parent: COMMON_CORE, child: SUB_GROUP}
`)
	c, err := l.Reload()
	require.NoError(t, err)
	assert.Same(t, c, notified)
	assert.True(t, l.IsAuthorized(programtree.TypeCommonCore, programtree.TypeSubGroup))
	assert.Equal(t, "2", l.Catalogue().Version())
}

func TestLoader_KeepsPreviousCatalogueOnInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	writeRules(t, path, smallRules)

	l, err := NewLoader(path, quietLogger())
	require.NoError(t, err)

	writeRules(t, path, "version: \"\"\n")
	_, err = l.Reload()
	require.Error(t, err)
	assert.Equal(t, "1", l.Catalogue().Version())
}

func TestLoader_EmptyPathUsesDefaults(t *testing.T) {
	l, err := NewLoader("", nil)
	require.NoError(t, err)
	assert.True(t, l.IsAuthorized(programtree.TypeBachelor, programtree.TypeCommonCore))

	stop, err := l.Watch()
	require.NoError(t, err)
	stop()
}

func TestLoader_MissingFile(t *testing.T) {
	_, err := NewLoader(filepath.Join(t.TempDir(), "missing.yaml"), quietLogger())
	assert.ErrorContains(t, err, "read rules")
}

func TestLoader_WatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	writeRules(t, path, smallRules)

	l, err := NewLoader(path, quietLogger())
	require.NoError(t, err)

	stop, err := l.Watch()
	require.NoError(t, err)
	defer stop()

	writeRules(t, path, `
version: "3"
relationships:
  - {parent: COMMON_CORE, child: SUB_GROUP}
`)

	assert.Eventually(t, func() bool {
		return l.Catalogue().Version() == "3"
	}, 5*time.Second, 20*time.Millisecond)
}
