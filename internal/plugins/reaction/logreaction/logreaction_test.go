package logreaction

import (
	"bytes"
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraphd/flowgraphd/internal/component"
	"github.com/flowgraphd/flowgraphd/internal/lifecycle"
	"github.com/flowgraphd/flowgraphd/internal/logging"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevLevel := logging.Logger.GetLevel()
	logging.Logger.SetOutput(&buf)
	logging.Logger.SetLevel(logrus.TraceLevel)
	t.Cleanup(func() {
		logging.Logger.SetOutput(logging.OutputSplitter{})
		logging.Logger.SetLevel(prevLevel)
	})
	return &buf
}

func TestDeliverLogsAtInfoByDefault(t *testing.T) {
	buf := captureLogs(t)
	r := New("r1", "")
	require.NoError(t, r.Start(context.Background()))

	require.NoError(t, r.Deliver(context.Background(), component.Payload{QueryID: "q1", Body: []byte(`{"a":1}`)}))

	out := buf.String()
	assert.Contains(t, out, "level=info")
	assert.Contains(t, out, "query=q1")
}

func TestDeliverLogsAtWarnLevel(t *testing.T) {
	buf := captureLogs(t)
	r := New("r1", "warn")
	require.NoError(t, r.Start(context.Background()))

	require.NoError(t, r.Deliver(context.Background(), component.Payload{QueryID: "q1", Body: []byte("x")}))
	assert.Contains(t, buf.String(), "level=warning")
}

func TestDeliverLogsAtErrorLevel(t *testing.T) {
	buf := captureLogs(t)
	r := New("r1", "error")
	require.NoError(t, r.Start(context.Background()))

	require.NoError(t, r.Deliver(context.Background(), component.Payload{QueryID: "q1", Body: []byte("x")}))
	assert.Contains(t, buf.String(), "level=error")
}

func TestStartStopLifecycle(t *testing.T) {
	r := New("r1", "info")
	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, lifecycle.Running, r.Status().State)

	require.NoError(t, r.Stop(context.Background()))
	assert.Equal(t, lifecycle.Stopped, r.Status().State)
}
