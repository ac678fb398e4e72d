package toolregistry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFile(t *testing.T) {
	r, err := Load("/nonexistent/path/that/does/not/exist.yml")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Empty(t, r.All())
	assert.Empty(t, r.Names())
}

func TestLoadValidYAML(t *testing.T) {
	const yamlContent = `
tools:
  - id: charter
    name: Project Charter
    description: Drafts a project charter
    disciplines: [civil, structural]
  - id: wbs
    name: Work Breakdown
    description: Builds a work breakdown structure
`
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.yml")
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0600))

	r, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, r)

	all := r.All()
	assert.Len(t, all, 2)
	assert.Equal(t, "charter", all[0].ID)
	assert.Equal(t, "wbs", all[1].ID)

	tool, ok := r.Lookup("charter")
	require.True(t, ok)
	assert.Equal(t, "Project Charter", tool.Name)

	assert.True(t, r.Has("wbs"))
	assert.False(t, r.Has("nonexistent"))
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(path, []byte(":\tinvalid:\tyaml:\t[unclosed"), 0600))

	r, err := Load(path)
	assert.Error(t, err)
	assert.Nil(t, r)
}

func TestAllowed(t *testing.T) {
	r := New(
		Tool{ID: "charter"},
		Tool{ID: "wbs", Disciplines: []string{"civil"}},
		Tool{ID: "billing", Roles: []string{"admin"}, Disciplines: []string{"civil"}},
	)

	tests := []struct {
		name      string
		toolID    string
		principal Principal
		want      bool
	}{
		{"unrestricted tool allows anyone", "charter", Principal{UserID: "u1"}, true},
		{"discipline match allowed", "wbs", Principal{Discipline: "civil"}, true},
		{"discipline mismatch denied", "wbs", Principal{Discipline: "electrical"}, false},
		{"role and discipline both required", "billing", Principal{Role: "admin", Discipline: "civil"}, true},
		{"role mismatch denied", "billing", Principal{Role: "member", Discipline: "civil"}, false},
		{"unregistered tool denied", "ghost", Principal{Role: "admin"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Allowed(tt.toolID, tt.principal))
		})
	}
}

func TestReloadReplacesContents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.yml")
	require.NoError(t, os.WriteFile(path, []byte("tools:\n  - id: charter\n"), 0600))

	r, err := Load(path)
	require.NoError(t, err)
	assert.True(t, r.Has("charter"))

	require.NoError(t, os.WriteFile(path, []byte("tools:\n  - id: wbs\n"), 0600))
	require.NoError(t, r.Reload(path))
	assert.False(t, r.Has("charter"))
	assert.True(t, r.Has("wbs"))
}
