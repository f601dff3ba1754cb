package workflows

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinPolicy_UnmarshalAll(t *testing.T) {
	var j JoinPolicy
	require.NoError(t, json.Unmarshal([]byte(`"all"`), &j))
	assert.True(t, j.All)
	assert.Equal(t, 0, j.N)
}

func TestJoinPolicy_UnmarshalInteger(t *testing.T) {
	var j JoinPolicy
	require.NoError(t, json.Unmarshal([]byte(`3`), &j))
	assert.False(t, j.All)
	assert.Equal(t, 3, j.N)
}

func TestJoinPolicy_UnmarshalRejectsOtherStrings(t *testing.T) {
	var j JoinPolicy
	assert.Error(t, json.Unmarshal([]byte(`"some"`), &j))
}

func TestJoinPolicy_MarshalRoundTrip(t *testing.T) {
	all := JoinPolicy{All: true}
	data, err := json.Marshal(all)
	require.NoError(t, err)
	assert.Equal(t, `"all"`, string(data))

	var back JoinPolicy
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, all, back)

	n := JoinPolicy{N: 2}
	data, err = json.Marshal(n)
	require.NoError(t, err)
	assert.Equal(t, `2`, string(data))
}

func TestPolicies_All(t *testing.T) {
	p := Policies{
		OnComplete: []Successor{{Task: "c"}},
		OnSuccess:  []Successor{{Task: "s"}},
		OnError:    []Successor{{Task: "e"}},
	}
	all := p.All()
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].Task)
	assert.Equal(t, "s", all[1].Task)
	assert.Equal(t, "e", all[2].Task)
}

func TestTaskSpec_IsSubWorkflow(t *testing.T) {
	assert.True(t, TaskSpec{WorkflowRef: "sub"}.IsSubWorkflow())
	assert.False(t, TaskSpec{Action: "http.get"}.IsSubWorkflow())
}

func TestMarshalSpec_Nil(t *testing.T) {
	raw, err := MarshalSpec(nil)
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestMarshalSpec_RoundTrip(t *testing.T) {
	spec := &WorkflowSpec{
		Name: "demo",
		Type: TypeDirect,
		Tasks: map[string]TaskSpec{
			"a": {Name: "a", Action: "http.get"},
		},
	}
	raw, err := MarshalSpec(spec)
	require.NoError(t, err)

	var back WorkflowSpec
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, "demo", back.Name)
	assert.Equal(t, TypeDirect, back.Type)
}

func TestValidationResult_OK(t *testing.T) {
	ok := ValidationResult{Warnings: []ValidationIssue{{Code: "W"}}}
	assert.True(t, ok.OK())

	notOK := ValidationResult{Errors: []ValidationIssue{{Code: "E"}}}
	assert.False(t, notOK.OK())
}
