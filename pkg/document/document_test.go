package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromJSONFlattensScalars(t *testing.T) {
	doc, err := FromJSON([]byte(`{"name":"alice","age":30,"active":true}`))
	require.NoError(t, err)
	assert.Equal(t, "alice", doc["name"])
	assert.Equal(t, "30", doc["age"])
	assert.Equal(t, "true", doc["active"])
}

func TestFromJSONKeepsNestedAsCompactText(t *testing.T) {
	doc, err := FromJSON([]byte(`{"tags":["a","b"],"meta":{"k":"v"}}`))
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, doc["tags"])
	assert.Equal(t, `{"k":"v"}`, doc["meta"])
}

func TestToJSONRoundTripsTypes(t *testing.T) {
	doc := Document{"name": "alice", "age": "30", "active": "true", "tags": `["a","b"]`}
	raw, err := doc.ToJSON()
	require.NoError(t, err)

	back, err := FromJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, doc, back)
}

func TestCloneIsIndependent(t *testing.T) {
	doc := Document{"name": "alice"}
	clone := doc.Clone()
	clone["name"] = "bob"
	assert.Equal(t, "alice", doc["name"])
}

func TestIDField(t *testing.T) {
	doc := Document{IDField: "doc_1_abcd"}
	assert.Equal(t, "doc_1_abcd", doc.ID())
}
