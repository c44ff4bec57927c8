package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezkam/renewal/internal/domain"
)

func urgentNotification() domain.Notification {
	return domain.Notification{
		ID:      30042,
		FiresAt: time.Date(2025, time.May, 30, 12, 0, 1, 0, time.UTC),
		Title:   "URGENT: Document Expiring!",
		Body:    "Passport expires in 2 days!",
		Payload: map[string]string{
			domain.PayloadDocumentID: "doc1",
			domain.PayloadSlotKind:   string(domain.SlotUrgentAlert),
		},
	}
}

func TestWebhookSink_JSON(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewWebhookSink(srv.URL).Deliver(context.Background(), urgentNotification())
	require.NoError(t, err)

	assert.EqualValues(t, 30042, got.ID)
	assert.Equal(t, "URGENT: Document Expiring!", got.Title)
	assert.Equal(t, "doc1", got.Payload[domain.PayloadDocumentID])
}

func TestWebhookSink_Ntfy(t *testing.T) {
	var title, priority, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		title = r.Header.Get("Title")
		priority = r.Header.Get("Priority")
		b, _ := io.ReadAll(r.Body)
		body = string(b)
	}))
	defer srv.Close()

	err := NewWebhookSink(srv.URL, WithWebhookFormat(WebhookNtfy)).Deliver(context.Background(), urgentNotification())
	require.NoError(t, err)

	assert.Equal(t, "URGENT: Document Expiring!", title)
	assert.Equal(t, "urgent", priority)
	assert.Equal(t, "Passport expires in 2 days!", body)
}

func TestWebhookSink_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := NewWebhookSink(srv.URL, WithHTTPClient(srv.Client())).Deliver(context.Background(), urgentNotification())
			require.Error(t, err)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestWebhookSink_ConnectionRefusedIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewWebhookSink(url).Deliver(context.Background(), urgentNotification())

	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

type funcSink func(ctx context.Context, n domain.Notification) error

func (f funcSink) Deliver(ctx context.Context, n domain.Notification) error { return f(ctx, n) }

func TestMultiSink(t *testing.T) {
	ctx := context.Background()
	var calls int
	ok := funcSink(func(context.Context, domain.Notification) error { calls++; return nil })
	permanent := funcSink(func(context.Context, domain.Notification) error { return errors.New("bad request") })
	transient := funcSink(func(context.Context, domain.Notification) error { return Transient(errors.New("timeout")) })

	require.NoError(t, MultiSink{ok, LogSink{}}.Deliver(ctx, urgentNotification()))
	assert.Equal(t, 1, calls)

	err := MultiSink{ok, permanent}.Deliver(ctx, urgentNotification())
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, 2, calls, "every sink is attempted")

	err = MultiSink{permanent, transient}.Deliver(ctx, urgentNotification())
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}
