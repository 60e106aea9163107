package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/color"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/devrev/avcorr/internal/config"
	"github.com/devrev/avcorr/internal/errors"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const memoryConfig = `
store:
  backend: memory
  table: raw
write:
  frame_width: 4
  frame_height: 4
logging:
  level: error
`

func writeConfig(t *testing.T) string {
	t.Helper()
	return writeConfigText(t, memoryConfig)
}

func writeConfigText(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

// writePebbleConfig persists to a pebble directory under t.TempDir so that
// successive commands see each other's writes.
func writePebbleConfig(t *testing.T, extra string) string {
	t.Helper()
	return writeConfigText(t, fmt.Sprintf(`
store:
  backend: pebble
  table: raw
  pebble_dir: %s
write:
  frame_width: 4
  frame_height: 4
sample:
  frames_per_video: 3
  seed: 7
logging:
  level: error
%s`, filepath.Join(t.TempDir(), "db"), extra))
}

// writeVideoDir writes numFrames PNG frames and 50 audio samples per frame.
func writeVideoDir(t *testing.T, numFrames int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < numFrames; i++ {
		img := imaging.New(8, 8, color.NRGBA{R: uint8(i), A: 255})
		require.NoError(t, imaging.Save(img, filepath.Join(dir, fmt.Sprintf("%04d.png", i))))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "audio.u8"), make([]byte, 50*numFrames), 0o644))
	return dir
}

func run(args ...string) (string, error) {
	return runContext(context.Background(), args...)
}

func runContext(ctx context.Context, args ...string) (string, error) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestIngest(t *testing.T) {
	cfg := writeConfig(t)
	out, err := run("ingest", "--config", cfg, "--shard", "2", "--num-shards", "4",
		writeVideoDir(t, 3), writeVideoDir(t, 5))
	require.NoError(t, err)
	assert.Contains(t, out, "shard 2/4 finished with 2 videos")
}

func TestIngest_MissingAudio(t *testing.T) {
	dir := writeVideoDir(t, 2)
	require.NoError(t, os.Remove(filepath.Join(dir, "audio.u8")))

	_, err := run("ingest", "--config", writeConfig(t), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audio")
}

func TestEmptyTable(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run("shards", "--config", cfg)
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = run("sample", "--config", cfg, "-n", "1")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestBadConfig(t *testing.T) {
	_, err := run("shards", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = run("ingest", "--config", writeConfig(t))
	assert.Error(t, err, "ingest needs at least one directory")
}

func TestPebbleRoundTrip(t *testing.T) {
	cfg := writePebbleConfig(t, "")

	out, err := run("ingest", "--config", cfg, writeVideoDir(t, 6), writeVideoDir(t, 8))
	require.NoError(t, err)
	assert.Contains(t, out, "shard 0/1 finished with 2 videos")

	out, err = run("shards", "--config", cfg)
	require.NoError(t, err)
	var shard map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &shard))
	assert.Equal(t, "finished", shard["status"])
	assert.Equal(t, float64(2), shard["num_videos"])

	out, err = run("sample", "--config", cfg, "-n", "1", "--keys-only")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	var set map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &set))
	assert.Len(t, set["positive_same"]["frameKeys"], 3)
	assert.Contains(t, set, "negative_same")

	out, err = run("sample", "--config", cfg, "-n", "1")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &set))
	assert.Len(t, set["positive_same"]["video"], 3)

	out, err = run("materialize", "--config", cfg, "-n", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 2 examples to av_examples under prefix train")
}

func TestSamplePushAndPop(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := writePebbleConfig(t, fmt.Sprintf("redis:\n  addr: %s\n", mr.Addr()))

	_, err := run("ingest", "--config", cfg, writeVideoDir(t, 6))
	require.NoError(t, err)

	out, err := run("sample", "--config", cfg, "-n", "2", "--push")
	require.NoError(t, err)
	assert.Contains(t, out, "pushed 2 example sets to avcorr:samples")

	out, err = run("pop", "--config", cfg, "-n", "3", "--timeout", "1s")
	require.NoError(t, err)
	sc := bufio.NewScanner(strings.NewReader(out))
	popped := 0
	for sc.Scan() {
		var sample map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &sample))
		assert.Contains(t, sample, "audioKeys")
		popped++
	}
	assert.Equal(t, 3, popped)

	// Draining stops quietly once the queue stays empty.
	out, err = run("pop", "--config", cfg, "-n", "0", "--timeout", "1s")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "audioKeys")

	_, err = run("pop", "--config", cfg, "-n", "1", "--timeout", "1s")
	assert.True(t, errors.IsNotFound(err))
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestServe(t *testing.T) {
	port := freePort(t)
	cfg := writePebbleConfig(t, fmt.Sprintf("server:\n  host: 127.0.0.1\n  port: %d\n", port))

	_, err := run("ingest", "--config", cfg, writeVideoDir(t, 6))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := runContext(ctx, "serve", "--config", cfg)
		done <- err
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/v1/videos/0/0", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancellation")
	}
}

func TestWarnEphemeral(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	logger := zap.New(core)

	assert.False(t, warnEphemeral(config.StoreConfig{Backend: config.BackendPebble}, logger))
	assert.Equal(t, 0, logs.Len())

	assert.True(t, warnEphemeral(config.StoreConfig{Backend: config.BackendMemory, Table: "raw"}, logger))
	require.Equal(t, 1, logs.Len())
	assert.Contains(t, logs.All()[0].Message, "nothing is persisted")
}
