package assign

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alertops-platform/caseflow/internal/model"
	"github.com/alertops-platform/caseflow/internal/repository"
)

type stubDirectory struct {
	leads   map[string]*model.User
	members map[string][]*model.User
}

func (d *stubDirectory) TeamLead(ctx context.Context, teamID string) (*model.User, error) {
	if u, ok := d.leads[teamID]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}

func (d *stubDirectory) TeamMembers(ctx context.Context, teamID string) ([]*model.User, error) {
	return d.members[teamID], nil
}

type caseLoadsFn func(ctx context.Context, userIDs []string) (map[string]int, error)

func (f caseLoadsFn) OpenCaseCounts(ctx context.Context, userIDs []string) (map[string]int, error) {
	return f(ctx, userIDs)
}

type rotationFn func(ctx context.Context, key string) (int64, error)

func (f rotationFn) Next(ctx context.Context, key string) (int64, error) {
	return f(ctx, key)
}

func newTestResolver(dir Directory, loads CaseLoads, rot Rotation) *Resolver {
	if dir == nil {
		dir = &stubDirectory{}
	}
	if loads == nil {
		loads = caseLoadsFn(func(ctx context.Context, userIDs []string) (map[string]int, error) {
			return map[string]int{}, nil
		})
	}
	if rot == nil {
		rot = NewMemoryRotation()
	}
	return NewResolver(dir, loads, rot, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestResolveUnownedCases(t *testing.T) {
	r := newTestResolver(nil, nil, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		rule *model.RuleAssignment
	}{
		{"nil rule", nil},
		{"inactive rule", &model.RuleAssignment{Strategy: model.StrategyManual, Active: false, AssignedUserIDs: []string{"u1"}}},
		{"empty pool", &model.RuleAssignment{Strategy: model.StrategyManual, Active: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := r.Resolve(ctx, tt.rule)
			assert.False(t, info.HasAssignments())
		})
	}
}

func TestResolveManualAssignsWholePool(t *testing.T) {
	r := newTestResolver(nil, nil, nil)

	info := r.Resolve(context.Background(), &model.RuleAssignment{
		Strategy:        model.StrategyManual,
		Active:          true,
		AssignedUserIDs: []string{"u1", "u2"},
		AssignedTeamIDs: []string{"t1"},
	})

	assert.ElementsMatch(t, []string{"u1", "u2"}, info.UserIDs())
	assert.ElementsMatch(t, []string{"t1"}, info.TeamIDs())
}

func TestResolveRoundRobinCyclesFairly(t *testing.T) {
	r := newTestResolver(nil, nil, NewMemoryRotation())
	rule := &model.RuleAssignment{
		RuleUID:         "rule-1",
		Strategy:        model.StrategyRoundRobin,
		Active:          true,
		AssignedUserIDs: []string{"u1", "u2", "u3"},
	}

	var picks []string
	for i := 0; i < 6; i++ {
		info := r.Resolve(context.Background(), rule)
		users := info.UserIDs()
		require.Len(t, users, 1)
		picks = append(picks, users[0])
	}

	assert.Equal(t, []string{"u1", "u2", "u3", "u1", "u2", "u3"}, picks)
}

func TestResolveRoundRobinCounterFailure(t *testing.T) {
	r := newTestResolver(nil, nil, rotationFn(func(ctx context.Context, key string) (int64, error) {
		return 0, errors.New("redis down")
	}))

	info := r.Resolve(context.Background(), &model.RuleAssignment{
		RuleUID:         "rule-1",
		Strategy:        model.StrategyRoundRobin,
		Active:          true,
		AssignedUserIDs: []string{"u1", "u2"},
	})

	assert.Equal(t, []string{"u1"}, info.UserIDs())
}

func TestResolveRoundRobinWithoutUsersFallsBackToTeams(t *testing.T) {
	r := newTestResolver(nil, nil, nil)

	info := r.Resolve(context.Background(), &model.RuleAssignment{
		Strategy:        model.StrategyRoundRobin,
		Active:          true,
		AssignedTeamIDs: []string{"t1"},
	})

	assert.Empty(t, info.UserIDs())
	assert.Equal(t, []string{"t1"}, info.TeamIDs())
}

func TestResolveLoadBasedPicksLeastLoaded(t *testing.T) {
	loads := caseLoadsFn(func(ctx context.Context, userIDs []string) (map[string]int, error) {
		return map[string]int{"u1": 5, "u2": 2, "u3": 7}, nil
	})
	r := newTestResolver(nil, loads, nil)

	info := r.Resolve(context.Background(), &model.RuleAssignment{
		Strategy:        model.StrategyLoadBased,
		Active:          true,
		AssignedUserIDs: []string{"u1", "u2", "u3"},
	})

	assert.Equal(t, []string{"u2"}, info.UserIDs())
}

func TestResolveLoadBasedZeroForUnknownUsers(t *testing.T) {
	// u2 has no open cases at all, so it is missing from the counts.
	loads := caseLoadsFn(func(ctx context.Context, userIDs []string) (map[string]int, error) {
		return map[string]int{"u1": 1}, nil
	})
	r := newTestResolver(nil, loads, nil)

	info := r.Resolve(context.Background(), &model.RuleAssignment{
		Strategy:        model.StrategyLoadBased,
		Active:          true,
		AssignedUserIDs: []string{"u1", "u2"},
	})

	assert.Equal(t, []string{"u2"}, info.UserIDs())
}

func TestResolveLoadBasedTieGoesToPoolOrder(t *testing.T) {
	loads := caseLoadsFn(func(ctx context.Context, userIDs []string) (map[string]int, error) {
		return map[string]int{}, nil
	})
	r := newTestResolver(nil, loads, nil)

	info := r.Resolve(context.Background(), &model.RuleAssignment{
		Strategy:        model.StrategyLoadBased,
		Active:          true,
		AssignedUserIDs: []string{"u3", "u1"},
	})

	assert.Equal(t, []string{"u3"}, info.UserIDs())
}

func TestResolveLoadBasedCountFailureAssignsPool(t *testing.T) {
	loads := caseLoadsFn(func(ctx context.Context, userIDs []string) (map[string]int, error) {
		return nil, errors.New("database unavailable")
	})
	r := newTestResolver(nil, loads, nil)

	info := r.Resolve(context.Background(), &model.RuleAssignment{
		Strategy:        model.StrategyLoadBased,
		Active:          true,
		AssignedUserIDs: []string{"u1", "u2"},
	})

	assert.ElementsMatch(t, []string{"u1", "u2"}, info.UserIDs())
}

func TestResolveTeamBasedPrefersLead(t *testing.T) {
	dir := &stubDirectory{
		leads: map[string]*model.User{"t1": {ID: "lead-1"}},
	}
	r := newTestResolver(dir, nil, nil)

	info := r.Resolve(context.Background(), &model.RuleAssignment{
		Strategy:        model.StrategyTeamBased,
		Active:          true,
		AssignedTeamIDs: []string{"t1", "t2"},
	})

	assert.Equal(t, []string{"lead-1"}, info.UserIDs())
	assert.Equal(t, []string{"t1"}, info.TeamIDs())
}

func TestResolveTeamBasedFallsBackToFirstMember(t *testing.T) {
	dir := &stubDirectory{
		members: map[string][]*model.User{
			"t1": {{ID: "member-1"}, {ID: "member-2"}},
		},
	}
	r := newTestResolver(dir, nil, nil)

	info := r.Resolve(context.Background(), &model.RuleAssignment{
		Strategy:        model.StrategyTeamBased,
		Active:          true,
		AssignedTeamIDs: []string{"t1"},
	})

	assert.Equal(t, []string{"member-1"}, info.UserIDs())
	assert.Equal(t, []string{"t1"}, info.TeamIDs())
}

func TestResolveTeamBasedSkipsEmptyTeam(t *testing.T) {
	dir := &stubDirectory{
		members: map[string][]*model.User{
			"t2": {{ID: "member-9"}},
		},
	}
	r := newTestResolver(dir, nil, nil)

	info := r.Resolve(context.Background(), &model.RuleAssignment{
		Strategy:        model.StrategyTeamBased,
		Active:          true,
		AssignedTeamIDs: []string{"t1", "t2"},
	})

	assert.Equal(t, []string{"member-9"}, info.UserIDs())
	assert.Equal(t, []string{"t2"}, info.TeamIDs())
}

func TestResolveTeamBasedAllTeamsEmpty(t *testing.T) {
	r := newTestResolver(&stubDirectory{}, nil, nil)

	info := r.Resolve(context.Background(), &model.RuleAssignment{
		Strategy:        model.StrategyTeamBased,
		Active:          true,
		AssignedTeamIDs: []string{"t1", "t2"},
	})

	assert.Empty(t, info.UserIDs())
	assert.ElementsMatch(t, []string{"t1", "t2"}, info.TeamIDs())
}

// Every strategy must resolve to a subset of, or users derived from, the
// configured pool.
func TestResolveNeverInventsAssignees(t *testing.T) {
	dir := &stubDirectory{
		leads: map[string]*model.User{"t1": {ID: "lead-1"}},
	}
	r := newTestResolver(dir, nil, nil)

	rule := &model.RuleAssignment{
		RuleUID:         "rule-1",
		Active:          true,
		AssignedUserIDs: []string{"u1", "u2"},
		AssignedTeamIDs: []string{"t1"},
	}

	for _, strategy := range []model.AssignmentStrategy{
		model.StrategyManual,
		model.StrategyRoundRobin,
		model.StrategyLoadBased,
		model.StrategyTeamBased,
	} {
		rule.Strategy = strategy
		info := r.Resolve(context.Background(), rule)

		for _, id := range info.UserIDs() {
			assert.Contains(t, []string{"u1", "u2", "lead-1"}, id, "strategy %s", strategy)
		}
		for _, id := range info.TeamIDs() {
			assert.Contains(t, []string{"t1"}, id, "strategy %s", strategy)
		}
	}
}
