package chaos_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libracirc/internal/api"
	"libracirc/internal/chaos"
	"libracirc/internal/circulation"
	"libracirc/internal/clients"
	"libracirc/internal/inventory"
	"libracirc/internal/membership"
	"libracirc/internal/review"
	"libracirc/internal/testutil"
)

func services(env *testutil.Env) api.Services {
	return api.Services{
		Inventory: inventory.NewService(env.Store, env.Directory, inventory.WithClock(env.Clock.Now)),
		Lending:   circulation.NewService(env.Store, env.Directory, circulation.WithClock(env.Clock.Now)),
		Reviews:   review.NewService(env.Store, env.Directory, review.WithClock(env.Clock.Now)),
		Directory: env.Directory,
		Audit:     env.Store,
	}
}

func fixture(t *testing.T, env *testutil.Env, readers int) chaos.Fixture {
	f := chaos.Fixture{Staff: env.AddMember(t, membership.RoleStaff)}
	for i := 0; i < readers; i++ {
		f.Readers = append(f.Readers, env.AddMember(t, membership.RoleMember))
	}
	return f
}

func requireHeld(t *testing.T, engine *chaos.Engine, exp chaos.Experiment) *chaos.Result {
	t.Helper()
	result, err := engine.Run(context.Background(), exp)
	require.NoError(t, err)
	require.True(t, result.HypothesisHeld, "%s: failed %v, violations %v, errors %v",
		exp.Name, result.FailedChecks, result.Violations, result.ErrorEvents)
	return result
}

func TestExperimentsHoldInProcess(t *testing.T) {
	env := testutil.NewEnv()
	svc := services(env)
	suite, err := chaos.NewSuite(chaos.InProcess{
		Inventory: svc.Inventory,
		Lending:   svc.Lending,
		Reviews:   svc.Reviews,
	}, fixture(t, env, 8), chaos.WithWorkers(16))
	require.NoError(t, err)

	engine := chaos.NewEngine(chaos.WithPause(0))
	for _, exp := range suite.All() {
		t.Run(exp.Name, func(t *testing.T) {
			requireHeld(t, engine, exp)
		})
	}
	assert.Len(t, engine.Results(), 4)
}

func TestLastCopyRaceOverHTTP(t *testing.T) {
	env := testutil.NewEnv()
	server := httptest.NewServer(api.NewRouter(api.Config{}, services(env)))
	defer server.Close()

	target := clients.NewLendingClient(server.URL + api.Prefix)
	suite, err := chaos.NewSuite(target, fixture(t, env, 5), chaos.WithRate(500, 50))
	require.NoError(t, err)

	result := requireHeld(t, chaos.NewEngine(), suite.LastCopyRace(20))
	winners := result.Observations["winners"]
	require.NotEmpty(t, winners)
	assert.Equal(t, 1.0, winners[len(winners)-1].Value)
}

func TestGameDayOverHTTP(t *testing.T) {
	env := testutil.NewEnv()
	server := httptest.NewServer(api.NewRouter(api.Config{}, services(env)))
	defer server.Close()

	suite, err := chaos.NewSuite(clients.NewLendingClient(server.URL+api.Prefix), fixture(t, env, 4))
	require.NoError(t, err)

	engine := chaos.NewEngine(chaos.WithPause(0))
	err = engine.ExecuteGameDay(context.Background(), chaos.GameDay{Name: "ci", Scenarios: suite.All()})
	require.NoError(t, err)
	for _, r := range engine.Results() {
		assert.True(t, r.HypothesisHeld, r.ExperimentName)
	}
}

func TestSuiteNeedsFixture(t *testing.T) {
	_, err := chaos.NewSuite(chaos.InProcess{}, chaos.Fixture{Readers: []uuid.UUID{uuid.New()}})
	assert.Error(t, err)
	_, err = chaos.NewSuite(chaos.InProcess{}, chaos.Fixture{Staff: uuid.New()})
	assert.Error(t, err)
}
