package session

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/groupcomm/internal/protocol/frame"
	"github.com/danmuck/groupcomm/internal/protocol/schema"
	"github.com/danmuck/groupcomm/internal/testutil/testlog"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestNextBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(7))
	got := NextBackoffDelay(cfg, 1, rng)
	if got < 125*time.Millisecond || got > 375*time.Millisecond {
		t.Fatalf("jitter out of range: %v", got)
	}
}

func TestBackoffWaitHonorsContext(t *testing.T) {
	testlog.Start(t)
	b := NewBackoff(BackoffConfig{InitialDelay: time.Hour}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if b.Attempts() != 1 {
		t.Fatalf("attempts=%d", b.Attempts())
	}
	b.Reset()
	if b.Attempts() != 0 {
		t.Fatalf("reset attempts=%d", b.Attempts())
	}
}

func TestConfigWithDefaultsFillsZeroes(t *testing.T) {
	testlog.Start(t)
	cfg := Config{WriteTimeout: time.Second}.WithDefaults()
	def := DefaultConfig()
	if cfg.WriteTimeout != time.Second {
		t.Fatalf("explicit value overwritten: %v", cfg.WriteTimeout)
	}
	if cfg.ConnectTimeout != def.ConnectTimeout || cfg.WireupTimeout != def.WireupTimeout {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.SecurityMode != SecurityModeDevelopment {
		t.Fatalf("security mode=%q", cfg.SecurityMode)
	}
}

func TestHelloRoundTripCarriesToken(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	in := Hello{GroupID: "ring", Rank: 2, Size: 4, Token: "secret"}
	if err := WriteHello(&buf, in, frame.DefaultLimits()); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	got, err := ReadHello(&buf, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if got != in {
		t.Fatalf("unexpected hello: %+v", got)
	}
}

func TestHelloValidateRejectsRankOutsideSize(t *testing.T) {
	testlog.Start(t)
	err := WriteHello(&bytes.Buffer{}, Hello{GroupID: "ring", Rank: 4, Size: 4}, frame.DefaultLimits())
	if !errors.Is(err, ErrInvalidHello) {
		t.Fatalf("expected ErrInvalidHello, got %v", err)
	}
}

func TestHelloAckRejectedRoundTrip(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	ack := HelloAck{
		GroupID: "ring",
		Rank:    0,
		Size:    4,
		Status:  schema.StatusRejected,
		Code:    1,
		Message: "group mismatch",
	}
	if err := WriteHelloAck(&buf, ack, frame.DefaultLimits()); err != nil {
		t.Fatalf("write ack: %v", err)
	}
	got, err := ReadHelloAck(&buf, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if got.Accepted() || got.Message != "group mismatch" || got.Code != 1 {
		t.Fatalf("unexpected ack: %+v", got)
	}
	if !errors.Is(got.Err(), ErrHelloRejected) {
		t.Fatalf("expected ErrHelloRejected, got %v", got.Err())
	}
}

func TestReadHelloRejectsWrongMessageType(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	ack := HelloAck{GroupID: "ring", Size: 1, Status: schema.StatusAccepted}
	if err := WriteHelloAck(&buf, ack, frame.DefaultLimits()); err != nil {
		t.Fatalf("write ack: %v", err)
	}
	if _, err := ReadHello(&buf, frame.DefaultLimits()); !errors.Is(err, ErrInvalidHello) {
		t.Fatalf("expected ErrInvalidHello, got %v", err)
	}
}

func TestValidateClientTransportProductionRequiresTLSMTLS(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.SecurityMode = SecurityModeProduction
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}

	cfg.TLS.Enabled = true
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrMTLSRequired) {
		t.Fatalf("expected ErrMTLSRequired, got %v", err)
	}
}

func TestValidatePeerTransportMutualRequiresCertKeyCA(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.TLS.Enabled = true
	cfg.TLS.Mutual = true
	if err := cfg.ValidatePeerTransport(); !errors.Is(err, ErrTLSCertFileRequired) {
		t.Fatalf("expected ErrTLSCertFileRequired, got %v", err)
	}

	cfg.TLS.CertFile = "/tmp/peer.pem"
	if err := cfg.ValidatePeerTransport(); !errors.Is(err, ErrTLSKeyFileRequired) {
		t.Fatalf("expected ErrTLSKeyFileRequired, got %v", err)
	}

	cfg.TLS.KeyFile = "/tmp/peer.key"
	if err := cfg.ValidatePeerTransport(); !errors.Is(err, ErrTLSCAFileRequired) {
		t.Fatalf("expected ErrTLSCAFileRequired, got %v", err)
	}

	cfg.TLS.CAFile = "/tmp/ca.pem"
	if err := cfg.ValidatePeerTransport(); err != nil {
		t.Fatalf("expected valid transport config, got %v", err)
	}
}

func TestTLSConfigDisabledIsNil(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	srv, err := cfg.ServerTLSConfig()
	if err != nil || srv != nil {
		t.Fatalf("server tls: cfg=%v err=%v", srv, err)
	}
	cli, err := cfg.ClientTLSConfig("127.0.0.1:1")
	if err != nil || cli != nil {
		t.Fatalf("client tls: cfg=%v err=%v", cli, err)
	}
}
