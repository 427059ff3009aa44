package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestErrorCarriesContextFieldsAndStack(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf})

	ctx := log.WithRequestID(context.Background(), "req-123")
	ctx = log.WithOrderID(ctx, "order-1")
	log.Error(ctx, "boom", errors.New("boom"))

	for _, want := range []string{`"request_id":"req-123"`, `"order_id":"order-1"`, `"stack"`, `"service":"test"`, `"error":"boom"`} {
		assert.Contains(t, buf.String(), want)
	}
}

func TestWarnStackToggle(t *testing.T) {
	buf := &bytes.Buffer{}
	New(Options{ServiceName: "test", Output: buf, WarnStack: true}).Warn(context.Background(), "warny")
	assert.Contains(t, buf.String(), `"stack"`)

	buf.Reset()
	New(Options{ServiceName: "test", Output: buf}).Warn(context.Background(), "warny")
	assert.NotContains(t, buf.String(), `"stack"`)
}

func TestFieldsDoNotLeakIntoParentContext(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})

	base := context.Background()
	_ = log.WithUserID(base, "user-1")
	log.Info(base, "plain")

	assert.NotContains(t, buf.String(), "user-1")
}

func TestEmailFieldsAreMasked(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})

	ctx := log.WithFields(context.Background(), map[string]any{
		"to":      "jane@example.com",
		"subject": "jane@example.com",
	})
	log.Info(ctx, "send")

	assert.Contains(t, buf.String(), `"to":"j***@example.com"`)
	assert.Contains(t, buf.String(), `"subject":"jane@example.com"`)
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "a***@b.org", MaskEmail("alex@b.org"))
	assert.Equal(t, "not-an-email", MaskEmail("not-an-email"))
	assert.Equal(t, "@nolocal", MaskEmail("@nolocal"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("invalid"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
}

func TestDebugFollowsLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	quiet := New(Options{ServiceName: "test", Output: buf})
	quiet.Debug(context.Background(), "hidden")
	assert.Zero(t, buf.Len())
	assert.Equal(t, zerolog.InfoLevel, quiet.Level())

	New(Options{ServiceName: "test", Output: buf, Level: zerolog.DebugLevel}).Debug(context.Background(), "shown")
	assert.Contains(t, buf.String(), `"message":"shown"`)
}

func TestConsoleFormatAndNop(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf, Format: " Console "})
	log.Info(log.WithPickupEventID(context.Background(), "evt-9"), "sweep done")

	assert.False(t, bytes.HasPrefix(bytes.TrimSpace(buf.Bytes()), []byte("{")))
	assert.Contains(t, buf.String(), "evt-9")

	Nop().Error(context.Background(), "nothing", errors.New("ignored"))
	assert.Equal(t, zerolog.Disabled, Nop().Level())
}
