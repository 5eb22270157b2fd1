package events

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_DeliversInPublishOrder(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(8)
	defer cancel()

	b.Publish(QueueChanged())
	b.Publish(DownloadProgress("job-1", 10))
	b.Publish(DownloadProgress("job-1", 20))

	got := []Event{<-ch, <-ch, <-ch}
	assert.Equal(t, KindQueueChanged, got[0].Kind)
	assert.Equal(t, 10.0, got[1].Percent)
	assert.Equal(t, 20.0, got[2].Percent)
}

func TestBus_FullSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus()
	_, cancel := b.Subscribe(1)
	defer cancel()

	for i := 0; i < 5; i++ {
		b.Publish(QueueChanged())
	}
	assert.Equal(t, int64(4), b.Dropped())
}

func TestBus_CancelUnsubscribesAndCloses(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(0)
	require.Equal(t, 1, b.Subscribers())

	cancel()
	cancel()
	assert.Equal(t, 0, b.Subscribers())

	_, open := <-ch
	assert.False(t, open)

	// Publishing with no subscribers is fine.
	b.Publish(ProcessSpawned(42))
}

func TestTee_SkipsNil(t *testing.T) {
	var a, c []Event
	p := Tee(
		PublisherFunc(func(e Event) { a = append(a, e) }),
		nil,
		PublisherFunc(func(e Event) { c = append(c, e) }),
	)
	p.Publish(ProcessSpawned(7))

	require.Len(t, a, 1)
	require.Len(t, c, 1)
	assert.Equal(t, 7, c[0].PID)
	require.NotNil(t, OrDiscard(nil))
	OrDiscard(nil).Publish(QueueChanged())
}

func TestJSONLWriter_WritesEnvelopes(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf)

	require.NoError(t, w.Write(RawOutput("job-1", StreamStdout, "Success. Downloaded item")))
	require.NoError(t, w.Write(DownloadProgress("job-1", 42.5)))

	sc := bufio.NewScanner(&buf)
	var records []map[string]any
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		records = append(records, rec)
	}
	require.Len(t, records, 2)

	assert.Equal(t, "wsfetch.raw-output.v1", records[0]["type"])
	assert.Equal(t, "stdout", records[0]["stream"])
	assert.Equal(t, "Success. Downloaded item", records[0]["line"])
	assert.Equal(t, "wsfetch.download-progress.v1", records[1]["type"])
	assert.Equal(t, 42.5, records[1]["percent"])
}

func TestJSONLWriter_KindFilter(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf).WithKinds(KindDownloadProgress)

	require.NoError(t, w.Write(RawOutput("j", StreamStderr, "noise")))
	require.NoError(t, w.Write(DownloadProgress("j", 1)))

	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("\n")))
}

func TestJSONLWriter_Closed(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf)
	require.NoError(t, w.Close())

	err := w.Write(QueueChanged())
	require.ErrorIs(t, err, ErrWriterClosed)

	w.Publish(QueueChanged())
	assert.ErrorIs(t, w.Err(), ErrWriterClosed)
	assert.Zero(t, buf.Len())
}

type shortWriter struct {
	buf bytes.Buffer
}

func (s *shortWriter) Write(p []byte) (int, error) {
	if len(p) > 3 {
		p = p[:3]
	}
	return s.buf.Write(p)
}

type zeroWriter struct{}

func (zeroWriter) Write([]byte) (int, error) { return 0, nil }

func TestWriteAll(t *testing.T) {
	sw := &shortWriter{}
	require.NoError(t, writeAll(sw, []byte("hello world")))
	assert.Equal(t, "hello world", sw.buf.String())

	err := NewJSONLWriter(zeroWriter{}).Write(QueueChanged())
	var we *WriteError
	require.True(t, errors.As(err, &we))
	assert.Equal(t, "write", we.Op)
}
