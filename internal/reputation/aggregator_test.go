package reputation

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"renonotify/internal/model"
)

type fakeCounter struct {
	sent       int64
	bounces    int64
	complaints int64
}

func (f *fakeCounter) DailyCounts(_ context.Context, _ string) (int64, int64, int64, error) {
	return f.sent, f.bounces, f.complaints, nil
}

type fakeMetricsStore struct {
	mu      sync.Mutex
	rows    map[string]*model.ReputationMetrics
	upserts int
}

func (f *fakeMetricsStore) Upsert(_ context.Context, m *model.ReputationMetrics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rows == nil {
		f.rows = make(map[string]*model.ReputationMetrics)
	}
	copyM := *m
	f.rows[m.MetricDate] = &copyM
	f.upserts++
	return nil
}

func (f *fakeMetricsStore) GetByDate(_ context.Context, date string) (*model.ReputationMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[date]
	if !ok {
		return nil, nil
	}
	copyM := *m
	return &copyM, nil
}

type fakeAlertSink struct {
	bounce    bool
	complaint bool
	calls     int
}

func (f *fakeAlertSink) SetAlerts(_ context.Context, _ string, bounceAlert, complaintAlert bool) error {
	f.bounce = bounceAlert
	f.complaint = complaintAlert
	f.calls++
	return nil
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name              string
		sent              int64
		bounces           int64
		complaints        int64
		wantBounceRate    float64
		wantBounceAlert   bool
		wantComplaintWarn bool
	}{
		{
			name:           "healthy day",
			sent:           100, bounces: 2,
			wantBounceRate: 0.02,
		},
		{
			name:            "six bounces per hundred sent alerts",
			sent:            100, bounces: 6,
			wantBounceRate:  0.06,
			wantBounceAlert: true,
		},
		{
			name:            "bounces just above five percent of sent alert",
			sent:            1000, bounces: 51,
			wantBounceRate:  0.051,
			wantBounceAlert: true,
		},
		{
			name:              "complaint rate above threshold alerts",
			sent:              1000, bounces: 1, complaints: 2,
			wantBounceRate:    0.001,
			wantComplaintWarn: true,
		},
		{
			name: "no sends yields zero rates",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeMetricsStore{}
			sink := &fakeAlertSink{}
			agg := NewAggregator(
				&fakeCounter{sent: tt.sent, bounces: tt.bounces, complaints: tt.complaints},
				store,
				sink,
				DefaultThresholds(),
				zap.NewNop(),
			)

			m, err := agg.Aggregate(context.Background(), "2026-08-31")
			if err != nil {
				t.Fatalf("Aggregate failed: %v", err)
			}
			if m.BounceRate != tt.wantBounceRate {
				t.Errorf("BounceRate = %v, want %v", m.BounceRate, tt.wantBounceRate)
			}
			if m.BounceRateAlert != tt.wantBounceAlert {
				t.Errorf("BounceRateAlert = %v, want %v", m.BounceRateAlert, tt.wantBounceAlert)
			}
			if m.ComplaintRateAlert != tt.wantComplaintWarn {
				t.Errorf("ComplaintRateAlert = %v, want %v", m.ComplaintRateAlert, tt.wantComplaintWarn)
			}
			if sink.calls != 1 || sink.bounce != tt.wantBounceAlert || sink.complaint != tt.wantComplaintWarn {
				t.Errorf("alert sink got bounce=%v complaint=%v calls=%d", sink.bounce, sink.complaint, sink.calls)
			}

			stored, _ := store.GetByDate(context.Background(), "2026-08-31")
			if stored == nil {
				t.Fatal("metrics row not stored")
			}
		})
	}
}

func TestAggregateIsIdempotent(t *testing.T) {
	store := &fakeMetricsStore{}
	agg := NewAggregator(&fakeCounter{sent: 10}, store, nil, DefaultThresholds(), zap.NewNop())

	for i := 0; i < 3; i++ {
		if _, err := agg.Aggregate(context.Background(), "2026-08-31"); err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.rows) != 1 {
		t.Fatalf("expected a single row, got %d", len(store.rows))
	}
	if store.upserts != 3 {
		t.Fatalf("expected 3 upserts of the same row, got %d", store.upserts)
	}
}

func TestAggregateBoundaryIsExclusive(t *testing.T) {
	// exactly 5% bounces and 0.1% complaints must not alert
	store := &fakeMetricsStore{}
	agg := NewAggregator(&fakeCounter{sent: 1000, bounces: 50, complaints: 1}, store, nil, DefaultThresholds(), zap.NewNop())

	m, err := agg.Aggregate(context.Background(), "2026-08-31")
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if m.BounceRate != 0.05 {
		t.Fatalf("BounceRate = %v, want 0.05", m.BounceRate)
	}
	if m.BounceRateAlert {
		t.Error("alert raised at exactly the threshold")
	}
	if m.ComplaintRateAlert {
		t.Error("complaint alert raised at exactly the threshold")
	}
}
