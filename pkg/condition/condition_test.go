package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docdb/pkg/document"
)

func TestParseImplicitEquality(t *testing.T) {
	c, err := Parse([]byte(`{"name":"alice"}`))
	require.NoError(t, err)
	assert.True(t, Eval(c, document.Document{"name": "alice"}))
	assert.False(t, Eval(c, document.Document{"name": "bob"}))
}

func TestParseImplicitAndAcrossFields(t *testing.T) {
	c, err := Parse([]byte(`{"name":"alice","age":"30"}`))
	require.NoError(t, err)
	assert.True(t, Eval(c, document.Document{"name": "alice", "age": "30"}))
	assert.False(t, Eval(c, document.Document{"name": "alice", "age": "31"}))
}

func TestParseTypedOperators(t *testing.T) {
	c, err := Parse([]byte(`{"age":{"$gt":"15"}}`))
	require.NoError(t, err)
	assert.True(t, Eval(c, document.Document{"age": "20"}))
	assert.False(t, Eval(c, document.Document{"age": "10"}))
}

func TestParseAndOr(t *testing.T) {
	c, err := Parse([]byte(`{"$or":[{"name":"alice"},{"name":"bob"}]}`))
	require.NoError(t, err)
	assert.True(t, Eval(c, document.Document{"name": "bob"}))
	assert.False(t, Eval(c, document.Document{"name": "carol"}))
}

func TestParseIn(t *testing.T) {
	c, err := Parse([]byte(`{"name":{"$in":["alice","bob"]}}`))
	require.NoError(t, err)
	assert.True(t, Eval(c, document.Document{"name": "alice"}))
	assert.False(t, Eval(c, document.Document{"name": "carol"}))
}

func TestParseLike(t *testing.T) {
	c, err := Parse([]byte(`{"name":{"$like":"ali%"}}`))
	require.NoError(t, err)
	assert.True(t, Eval(c, document.Document{"name": "alice"}))
	assert.True(t, Eval(c, document.Document{"name": "alicia"}))
	assert.False(t, Eval(c, document.Document{"name": "bob"}))
}

func TestParseUnknownOperatorIsDroppedNotError(t *testing.T) {
	c, err := Parse([]byte(`{"name":{"$bogus":"x"}}`))
	require.NoError(t, err)
	assert.True(t, Eval(c, document.Document{"name": "anything"}))
}

func TestParseMalformedCondition(t *testing.T) {
	_, err := Parse([]byte(`{"name":`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedCondition)
}

func TestParseEmptyMatchesEverything(t *testing.T) {
	c, err := Parse(nil)
	require.NoError(t, err)
	assert.True(t, Eval(c, document.Document{}))
}

func TestCompareNumericVsLexicographicFallback(t *testing.T) {
	c, err := Parse([]byte(`{"version":{"$gt":"v1"}}`))
	require.NoError(t, err)
	// Non-numeric values fall back to lexicographic comparison.
	assert.True(t, Eval(c, document.Document{"version": "v2"}))
	assert.False(t, Eval(c, document.Document{"version": "v0"}))
}

func TestCompareTimestampDatePadding(t *testing.T) {
	c, err := Parse([]byte(`{"timestamp":{"$gt":"2024-01-01"}}`))
	require.NoError(t, err)
	assert.True(t, Eval(c, document.Document{"timestamp": "2024-01-02T00:00:00Z"}))
	assert.False(t, Eval(c, document.Document{"timestamp": "2023-12-31T00:00:00Z"}))
}

func TestAbsentFieldIsFalse(t *testing.T) {
	c, err := Parse([]byte(`{"missing":"x"}`))
	require.NoError(t, err)
	assert.False(t, Eval(c, document.Document{"other": "y"}))
}
