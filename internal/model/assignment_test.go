package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignmentInfoDiscardsDuplicatesAndEmpties(t *testing.T) {
	info := NewAssignmentInfo([]string{"u1", "u2", "u1", ""}, []string{"", "t1", "t1"})

	assert.Equal(t, []string{"u1", "u2"}, info.UserIDs())
	assert.Equal(t, []string{"t1"}, info.TeamIDs())
}

func TestAssignmentInfoZeroValue(t *testing.T) {
	var info AssignmentInfo

	assert.False(t, info.HasAssignments())
	assert.Nil(t, info.UserIDs())
	assert.Equal(t, "unassigned", info.Summary())

	info.AddUser("u1")
	assert.True(t, info.HasUser("u1"))
}

func TestAssignmentInfoReplaceAndMerge(t *testing.T) {
	info := NewAssignmentInfo([]string{"u1"}, []string{"t1"})

	info.Merge(NewAssignmentInfo([]string{"u2"}, nil))
	assert.Equal(t, []string{"u1", "u2"}, info.UserIDs())
	assert.Equal(t, []string{"t1"}, info.TeamIDs())

	info.Replace(NewAssignmentInfo([]string{"u3"}, nil))
	assert.Equal(t, []string{"u3"}, info.UserIDs())
	assert.Empty(t, info.TeamIDs())
}

func TestAssignmentInfoCloneIsIndependent(t *testing.T) {
	info := NewAssignmentInfo([]string{"u1"}, []string{"t1"})
	clone := info.Clone()

	clone.AddUser("u2")
	clone.RemoveTeam("t1")

	assert.Equal(t, []string{"u1"}, info.UserIDs())
	assert.Equal(t, []string{"t1"}, info.TeamIDs())
	assert.True(t, clone.HasUser("u2"))
}

func TestAssignmentInfoEqualIgnoresOrder(t *testing.T) {
	a := NewAssignmentInfo([]string{"u1", "u2"}, []string{"t1"})
	b := NewAssignmentInfo([]string{"u2", "u1"}, []string{"t1"})

	assert.True(t, a.Equal(b))
	b.AddUser("u3")
	assert.False(t, a.Equal(b))
}

func TestAssignmentInfoSummary(t *testing.T) {
	info := NewAssignmentInfo([]string{"u2", "u1"}, []string{"t1"})
	assert.Equal(t, "users=[u1 u2] teams=[t1]", info.Summary())

	teamsOnly := NewAssignmentInfo(nil, []string{"t1"})
	assert.Equal(t, "teams=[t1]", teamsOnly.Summary())
}

func TestAssignmentInfoJSONRoundTrip(t *testing.T) {
	info := NewAssignmentInfo([]string{"u2", "u1"}, []string{"t1"})

	data, err := json.Marshal(info)
	require.NoError(t, err)
	assert.JSONEq(t, `{"user_ids":["u1","u2"],"team_ids":["t1"]}`, string(data))

	var decoded AssignmentInfo
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, info.Equal(decoded))
}

func TestAssignmentInfoUnmarshalEmptyDoc(t *testing.T) {
	var decoded AssignmentInfo
	require.NoError(t, json.Unmarshal([]byte(`{}`), &decoded))
	assert.False(t, decoded.HasAssignments())
}
