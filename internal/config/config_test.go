package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/renewal/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorageFS, cfg.Storage.Type)
	assert.Equal(t, "./renewal-data/documents", cfg.Storage.FSDir)
	assert.Equal(t, "./renewal-data/state.db", cfg.Scheduler.StatePath)
	assert.Equal(t, time.Hour, cfg.Scheduler.ForegroundInterval)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.OperationTimeout)
	assert.True(t, cfg.Scheduler.WatchDocuments)
	assert.Equal(t, time.Local, cfg.Scheduler.Location())
	assert.Equal(t, domain.ReminderOneWeek, cfg.Scheduler.DefaultPeriod())
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.PassLeaseTTL)

	assert.True(t, cfg.Notify.Enabled)
	assert.True(t, cfg.Notify.LogSink)
	assert.Equal(t, WebhookJSON, cfg.Notify.WebhookFormat)
	assert.Equal(t, 15*time.Second, cfg.Notify.PollInterval)
	assert.Equal(t, 5, cfg.Notify.MaxAttempts)

	assert.False(t, cfg.Observability.OTelEnabled)
	assert.Equal(t, "renewd", cfg.Observability.ServiceName)
}

func TestLoad_WithEnv(t *testing.T) {
	os.Clearenv()
	os.Setenv("RENEWAL_STORAGE_TYPE", "postgres")
	os.Setenv("RENEWAL_DB_DSN", "postgres://renewal:secret@db:5432/renewal")
	os.Setenv("RENEWAL_DB_MAX_CONNS", "8")
	os.Setenv("RENEWAL_DB_CONN_MAX_LIFETIME", "10m")
	os.Setenv("RENEWAL_TIMEZONE", "Europe/Berlin")
	os.Setenv("RENEWAL_FOREGROUND_INTERVAL", "30m")
	os.Setenv("RENEWAL_DEFAULT_REMINDER_PERIOD", "2_months")
	os.Setenv("RENEWAL_NOTIFICATIONS_ENABLED", "false")
	os.Setenv("RENEWAL_WEBHOOK_URL", "https://ntfy.sh/renewals")
	os.Setenv("RENEWAL_WEBHOOK_FORMAT", "ntfy")
	os.Setenv("RENEWAL_OTEL_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoragePostgres, cfg.Storage.Type)
	assert.Equal(t, "postgres://renewal:secret@db:5432/renewal", cfg.Storage.DSN)
	assert.Equal(t, 8, cfg.Storage.DBMaxConns)
	assert.Equal(t, 10*time.Minute, cfg.Storage.DBConnMaxLifetime)
	assert.Equal(t, "Europe/Berlin", cfg.Scheduler.Location().String())
	assert.Equal(t, 30*time.Minute, cfg.Scheduler.ForegroundInterval)
	assert.Equal(t, domain.ReminderTwoMonths, cfg.Scheduler.DefaultPeriod())
	assert.False(t, cfg.Notify.Enabled)
	assert.Equal(t, "https://ntfy.sh/renewals", cfg.Notify.WebhookURL)
	assert.Equal(t, WebhookNtfy, cfg.Notify.WebhookFormat)
	assert.True(t, cfg.Observability.OTelEnabled)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "unknown storage type",
			env:     map[string]string{"RENEWAL_STORAGE_TYPE": "mysql"},
			wantErr: "unknown RENEWAL_STORAGE_TYPE: mysql",
		},
		{
			name:    "postgres without dsn",
			env:     map[string]string{"RENEWAL_STORAGE_TYPE": "postgres"},
			wantErr: "RENEWAL_DB_DSN is required",
		},
		{
			name:    "gcs without bucket",
			env:     map[string]string{"RENEWAL_STORAGE_TYPE": "gcs"},
			wantErr: "RENEWAL_GCS_BUCKET is required",
		},
		{
			name:    "empty fs dir",
			env:     map[string]string{"RENEWAL_FS_DIR": ""},
			wantErr: "RENEWAL_FS_DIR is required",
		},
		{
			name:    "bad timezone",
			env:     map[string]string{"RENEWAL_TIMEZONE": "Mars/Olympus"},
			wantErr: "invalid RENEWAL_TIMEZONE",
		},
		{
			name:    "zero foreground interval",
			env:     map[string]string{"RENEWAL_FOREGROUND_INTERVAL": "0s"},
			wantErr: "RENEWAL_FOREGROUND_INTERVAL must be positive",
		},
		{
			name:    "unknown default reminder period",
			env:     map[string]string{"RENEWAL_DEFAULT_REMINDER_PERIOD": "fortnight"},
			wantErr: "invalid RENEWAL_DEFAULT_REMINDER_PERIOD",
		},
		{
			name:    "zero lease ttl",
			env:     map[string]string{"RENEWAL_PASS_LEASE_TTL": "0s"},
			wantErr: "RENEWAL_PASS_LEASE_TTL must be positive",
		},
		{
			name:    "unknown webhook format",
			env:     map[string]string{"RENEWAL_WEBHOOK_FORMAT": "xml"},
			wantErr: "unknown RENEWAL_WEBHOOK_FORMAT",
		},
		{
			name:    "no attempts",
			env:     map[string]string{"RENEWAL_DISPATCH_MAX_ATTEMPTS": "0"},
			wantErr: "RENEWAL_DISPATCH_MAX_ATTEMPTS must be at least 1",
		},
		{
			name:    "unparsable duration",
			env:     map[string]string{"RENEWAL_OPERATION_TIMEOUT": "fast"},
			wantErr: "RENEWAL_OPERATION_TIMEOUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.env {
				os.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
