package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentHashIsDeterministicAndPrefixed(t *testing.T) {
	h1 := ContentHash([]byte("@workflow Foo {}"))
	h2 := ContentHash([]byte("@workflow Foo {}"))
	assert.Equal(t, h1, h2)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, h1)
}

func TestContentHashDiffersOnDifferentContent(t *testing.T) {
	h1 := ContentHash([]byte("a"))
	h2 := ContentHash([]byte("b"))
	assert.NotEqual(t, h1, h2)
}

func TestNewBlobAddressesItsOwnContent(t *testing.T) {
	blob := NewBlob([]byte("hello"), MediaTypeSource)
	assert.Equal(t, ContentHash([]byte("hello")), blob.CasID)
	assert.Equal(t, int64(5), blob.SizeBytes)
	assert.Equal(t, MediaTypeSource, blob.MediaType)
}

func TestNewArtifactReferencesBlob(t *testing.T) {
	blob := NewBlob([]byte("{}"), MediaTypeAST)
	a := NewArtifact(KindAST, blob, "MyWorkflow", "sha256:deadbeef")
	assert.Equal(t, blob.CasID, a.CasID)
	assert.Equal(t, KindAST, a.Kind)
	assert.Equal(t, "MyWorkflow", a.WorkflowName)
	assert.Equal(t, "sha256:deadbeef", a.SourceHash)
	assert.NotEqual(t, a.ArtifactID.String(), "00000000-0000-0000-0000-000000000000")
}
