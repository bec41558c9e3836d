package telemetry

import (
	"context"
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	Init() // re-registration would panic without the sync.Once guard

	if MessagesForwarded == nil {
		t.Error("MessagesForwarded not initialized")
	}
	if ForwardFailures == nil {
		t.Error("ForwardFailures not initialized")
	}
	if PollCycles == nil {
		t.Error("PollCycles not initialized")
	}
	if TokenRefreshes == nil {
		t.Error("TokenRefreshes not initialized")
	}
	if ActivePollers == nil {
		t.Error("ActivePollers not initialized")
	}
	if ListenerChannels == nil {
		t.Error("ListenerChannels not initialized")
	}
}

func TestForwardCounters(t *testing.T) {
	Init()

	IncForwarded("twitch_to_yt")
	IncForwarded("yt_to_twitch")
	IncForwardFailure("twitch_to_yt")

	metric := &dto.Metric{}
	if err := MessagesForwarded.WithLabelValues("twitch_to_yt").Write(metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if metric.Counter.GetValue() < 1 {
		t.Errorf("forwarded counter = %v, want >= 1", metric.Counter.GetValue())
	}
}

func TestPollAndRefreshHelpers(t *testing.T) {
	Init()

	// Should not panic
	IncPollCycle()
	IncPollError()
	IncTokenRefresh("twitch")
	IncTokenRefresh("youtube")
	IncTokenRefreshFailure("youtube")
}

func TestGauges(t *testing.T) {
	Init()

	for _, n := range []int{0, 3, 100, 0} {
		SetActivePollers(n)
		SetListenerChannels(n)
	}
}

func TestCorrelationRoundTrip(t *testing.T) {
	ctx := WithCorrelation(context.Background(), "corr-123")
	if got := GetCorrelation(ctx); got != "corr-123" {
		t.Fatalf("GetCorrelation = %q, want corr-123", got)
	}
	if got := GetCorrelation(context.Background()); got != "" {
		t.Fatalf("GetCorrelation on empty ctx = %q, want empty", got)
	}
}

func TestLoggerWithCorrNeverNil(t *testing.T) {
	if LoggerWithCorr(context.Background()) == nil {
		t.Fatal("LoggerWithCorr returned nil for bare context")
	}
	if LoggerWithCorr(WithCorrelation(context.Background(), "abc")) == nil {
		t.Fatal("LoggerWithCorr returned nil for correlated context")
	}
}
