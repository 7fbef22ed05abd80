package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/testerhub/internal/chat"
	"github.com/suPer8Hu/testerhub/internal/config"
	"github.com/suPer8Hu/testerhub/internal/db"
)

type nopJobs struct{}

func (nopJobs) PublishJob(context.Context, string) error { return nil }

func TestNew_PicksAuditorByMode(t *testing.T) {
	gdb, err := db.Connect("sqlite:file:apptest?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	a := New(config.Config{}, Deps{DB: gdb})
	assert.IsType(t, &chat.InlineAuditor{}, a.Auditor)

	a = New(config.Config{ReconcileMode: "queue"}, Deps{DB: gdb, Jobs: nopJobs{}})
	assert.IsType(t, &chat.QueueAuditor{}, a.Auditor)

	a = New(config.Config{ReconcileMode: "queue"}, Deps{DB: gdb})
	assert.IsType(t, &chat.InlineAuditor{}, a.Auditor)

	a = New(config.Config{ReconcileMode: "off"}, Deps{DB: gdb})
	assert.IsType(t, chat.LogAuditor{}, a.Auditor)
	require.NotNil(t, a.Chat)
	require.NotNil(t, a.Profiles)
}
