package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckTargets(t *testing.T) {
	tr := newMemTransport()
	tr.execCode["personal"] = 1

	statuses := CheckTargets(context.Background(), fakeRegistry{names: []string{"dev", "personal"}}, tr)
	require.Len(t, statuses, 2)
	assert.Equal(t, TargetStatus{Target: "dev", Stdout: "ok"}, statuses[0])
	assert.Equal(t, "personal", statuses[1].Target)
	assert.Equal(t, 1, statuses[1].Code)
	assert.NoError(t, statuses[1].Err)
	assert.ElementsMatch(t, []string{"dev:uname -a", "personal:uname -a"}, tr.commands)
}

func TestAppCheckTargetsUnreachable(t *testing.T) {
	app, err := NewApp(testAppConfig(t))
	require.NoError(t, err)

	statuses := app.CheckTargets(context.Background())
	require.Len(t, statuses, 2)
	for _, st := range statuses {
		assert.Error(t, st.Err, st.Target)
	}
}
