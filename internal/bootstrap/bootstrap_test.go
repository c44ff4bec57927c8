package bootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/renewal/internal/config"
	"github.com/rezkam/renewal/internal/domain"
	"github.com/rezkam/renewal/internal/infrastructure/notify"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Storage: config.StorageConfig{
			Type:  config.StorageFS,
			FSDir: filepath.Join(dir, "documents"),
		},
		Scheduler: config.SchedulerConfig{
			StatePath:          filepath.Join(dir, "state.db"),
			Timezone:           "UTC",
			ForegroundInterval: time.Hour,
			OperationTimeout:   time.Second,
			PassLeaseTTL:       time.Minute,
		},
		Notify: config.NotifyConfig{
			Enabled:       true,
			LogSink:       true,
			WebhookFormat: config.WebhookJSON,
			PollInterval:  time.Second,
			MaxAttempts:   3,
		},
	}
	require.NoError(t, cfg.Scheduler.Validate())
	return cfg
}

func TestNewSink(t *testing.T) {
	assert.Nil(t, NewSink(config.NotifyConfig{}))

	assert.IsType(t, notify.LogSink{}, NewSink(config.NotifyConfig{LogSink: true}))

	webhook := NewSink(config.NotifyConfig{WebhookURL: "http://localhost:9/hook", WebhookFormat: config.WebhookNtfy})
	assert.IsType(t, &notify.WebhookSink{}, webhook)

	both := NewSink(config.NotifyConfig{LogSink: true, WebhookURL: "http://localhost:9/hook"})
	multi, ok := both.(notify.MultiSink)
	require.True(t, ok)
	assert.Len(t, multi, 2)
}

func TestOpenDocumentStore_UnknownType(t *testing.T) {
	_, _, err := OpenDocumentStore(context.Background(), config.StorageConfig{Type: "mysql"})
	assert.Error(t, err)
}

func TestNew_SchedulesSavedDocument(t *testing.T) {
	ctx := context.Background()
	rt, err := New(ctx, testConfig(t))
	require.NoError(t, err)
	defer rt.Close()

	doc := &domain.Document{
		ID:             "passport",
		Name:           "Passport",
		ExpiryDate:     time.Now().UTC().AddDate(0, 3, 0),
		ReminderPeriod: domain.ReminderOneMonth,
	}
	require.NoError(t, rt.Documents.SaveDocument(ctx, doc))
	require.NoError(t, rt.Hooks.OnDocumentSaved(ctx, doc))

	pending, err := rt.Platform.ListPending(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, pending)

	recorded, err := rt.State.FindScheduled(ctx, "passport")
	require.NoError(t, err)
	assert.Len(t, recorded, len(pending))

	assert.NotNil(t, rt.NewDispatcher())
}

func TestNew_NoSinkDeniesPermission(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Notify.LogSink = false

	rt, err := New(ctx, cfg)
	require.NoError(t, err)
	defer rt.Close()

	assert.Nil(t, rt.NewDispatcher())

	granted, err := rt.Platform.RequestPermission(ctx)
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestRuntime_CloseIsIdempotent(t *testing.T) {
	rt, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)

	require.NoError(t, rt.Close())
	require.NoError(t, rt.Close())
}

func TestNew_AppliesDefaultReminderPeriod(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Scheduler.DefaultReminderPeriod = "2_months"
	require.NoError(t, cfg.Scheduler.Validate())

	rt, err := New(ctx, cfg)
	require.NoError(t, err)
	defer rt.Close()

	assert.Equal(t, domain.ReminderTwoMonths, rt.Scheduler.DefaultPeriod())
}

func TestNew_WorkWaitsForSchedulerLease(t *testing.T) {
	ctx := context.Background()
	rt, err := New(ctx, testConfig(t))
	require.NoError(t, err)
	defer rt.Close()

	// Another process holds the lease.
	release, err := rt.State.NewLease(SchedulerLease, time.Minute).Acquire(ctx)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = rt.Hooks.Reschedule(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	sum, err := rt.Hooks.Reschedule(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, sum.PassID)
}
