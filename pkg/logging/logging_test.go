package logging

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iammrherb/labdabbler/pkg/config"
)

func newBufferedLogger(t *testing.T) (*Logger, *bytes.Buffer) {
	t.Helper()
	logger, err := NewLogger(&config.LoggingConfig{Level: "debug", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}
	var buf bytes.Buffer
	logger.writer = &buf
	return logger, &buf
}

func TestDerivedLoggerWrites(t *testing.T) {
	logger, buf := newBufferedLogger(t)

	// Derivation and the write must finish promptly; a derived logger
	// holding a locked mutex would hang here forever.
	done := make(chan struct{})
	go func() {
		defer close(done)
		child := logger.WithComponent("launcher").WithField("lab", "demo1")
		child.WithFields(map[string]interface{}{"provider": "local"}).Info("lab launched")
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("derived logger never wrote its entry")
	}

	out := buf.String()
	for _, want := range []string{
		`"component":"launcher"`,
		`"lab":"demo1"`,
		`"provider":"local"`,
		`"message":"lab launched"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log entry missing %s: %s", want, out)
		}
	}
}

func TestWithFieldDoesNotMutateParent(t *testing.T) {
	logger, buf := newBufferedLogger(t)

	_ = logger.WithField("lab", "demo1")
	logger.Info("parent message")

	if strings.Contains(buf.String(), "demo1") {
		t.Errorf("parent logger inherited the child's field: %s", buf.String())
	}
}

func TestConcurrentDerivation(t *testing.T) {
	logger, _ := newBufferedLogger(t)
	logger.writer = io.Discard
	base := logger.WithComponent("store")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			base.WithField("worker", n).Debug("tick")
		}(i)
	}
	wg.Wait()
}
