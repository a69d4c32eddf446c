package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	if m == nil {
		t.Fatal("NewMetricsWithRegistry returned nil")
	}
	if m.ConnectionsActive == nil {
		t.Error("ConnectionsActive metric is nil")
	}
	if m.ConnectionsAcceptedTotal == nil {
		t.Error("ConnectionsAcceptedTotal metric is nil")
	}
	if m.ConnectReplies == nil {
		t.Error("ConnectReplies metric is nil")
	}
}

func TestConnectionOpenedAndClosed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionOpened()

	if got := testutil.ToFloat64(m.ConnectionsActive); got != 3 {
		t.Errorf("ConnectionsActive = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.ConnectionsAcceptedTotal); got != 3 {
		t.Errorf("ConnectionsAcceptedTotal = %v, want 3", got)
	}

	m.ConnectionClosed()

	if got := testutil.ToFloat64(m.ConnectionsActive); got != 2 {
		t.Errorf("ConnectionsActive = %v, want 2 after one close", got)
	}
	if got := testutil.ToFloat64(m.ConnectionsAcceptedTotal); got != 3 {
		t.Errorf("ConnectionsAcceptedTotal = %v, want 3 (closes don't affect total)", got)
	}
}

func TestConnectReplySent(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.ConnectReplySent(0x00) // succeeded
	m.ConnectReplySent(0x00)
	m.ConnectReplySent(0x05) // connection refused

	succeeded := testutil.ToFloat64(m.ConnectReplies.WithLabelValues("0x00"))
	if succeeded != 2 {
		t.Errorf("ConnectReplies[0x00] = %v, want 2", succeeded)
	}
	refused := testutil.ToFloat64(m.ConnectReplies.WithLabelValues("0x05"))
	if refused != 1 {
		t.Errorf("ConnectReplies[0x05] = %v, want 1", refused)
	}
}

func TestReplyCodeLabel(t *testing.T) {
	tests := []struct {
		code byte
		want string
	}{
		{0x00, "0x00"},
		{0x01, "0x01"},
		{0x05, "0x05"},
		{0x08, "0x08"},
		{0xff, "0xff"},
	}
	for _, tc := range tests {
		if got := replyCodeLabel(tc.code); got != tc.want {
			t.Errorf("replyCodeLabel(%#x) = %s, want %s", tc.code, got, tc.want)
		}
	}
}

func TestDefault_SingletonAndNonNil(t *testing.T) {
	m1 := Default()
	m2 := Default()
	if m1 != m2 {
		t.Error("Default() should return the same instance across calls")
	}
	if m1 == nil {
		t.Fatal("Default() returned nil")
	}
}
