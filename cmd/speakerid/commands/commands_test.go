package commands

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/haivivi/speakerid/pkg/audio/pcm"
	"github.com/haivivi/speakerid/pkg/audio/wav"
	"github.com/haivivi/speakerid/pkg/kv"
	"github.com/haivivi/speakerid/pkg/voiceprint"
)

// voices maps the level of a test tone to its embedding.
var voices = map[int16][]float32{
	100: {1, 0, 0, 0},
	300: {0, 1, 0, 0},
}

var testModel = voiceprint.Func{Dim: 4, Fn: func(_ context.Context, audio []byte) ([]float32, error) {
	clip, err := wav.Parse(audio)
	if err != nil {
		return nil, err
	}
	if len(clip.Data) < 2 {
		return nil, errors.New("empty audio")
	}
	level := int16(binary.LittleEndian.Uint16(clip.Data))
	v, ok := voices[level]
	if !ok {
		return nil, fmt.Errorf("no voice at level %d", level)
	}
	return v, nil
}}

// setupTestEnv points the config at a temp library and swaps in a memory
// kv store and the level-coded model.
func setupTestEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(dir, "cache"))
	t.Setenv("SPEAKERID_LIBRARY_ROOT", filepath.Join(dir, "library"))
	t.Setenv("SPEAKERID_PROCESS_LOCK_DIR", filepath.Join(dir, "locks"))
	t.Setenv("SPEAKERID_EMBEDDING_DIMENSION", "4")

	testKVOverride = kv.NewMemory(nil)
	testModelOverride = testModel
	t.Cleanup(func() {
		testKVOverride = nil
		testModelOverride = nil
	})
	return dir
}

func runCmd(t *testing.T, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	rOut, wOut, _ := os.Pipe()
	rErr, wErr, _ := os.Pipe()
	os.Stdout = wOut
	os.Stderr = wErr

	verbose = false
	configPath = ""
	formatOutput = "table"
	outputFile = ""
	globalConfig = nil
	configLoadErr = nil

	var outBuf, errBuf bytes.Buffer
	done := make(chan struct{}, 2)
	go func() { outBuf.ReadFrom(rOut); done <- struct{}{} }()
	go func() { errBuf.ReadFrom(rErr); done <- struct{}{} }()

	rootCmd.SetArgs(args)
	err := rootCmd.Execute()

	wOut.Close()
	wErr.Close()
	<-done
	<-done
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdout = outBuf.String()
	stderr = errBuf.String()
	if err != nil {
		exitCode = 1
		if stderr == "" {
			stderr = err.Error()
		} else {
			stderr += err.Error()
		}
	}

	resetFlags(rootCmd)
	return
}

func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		f.Changed = false
		f.Value.Set(f.DefValue)
	})
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// writeTone writes a WAV file of constant level.
func writeTone(t *testing.T, dir, name string, level int16, d time.Duration) string {
	t.Helper()
	f := pcm.L16Mono16K
	data := make([]byte, f.BytesInDuration(d))
	for i := 0; i < len(data); i += 2 {
		binary.LittleEndian.PutUint16(data[i:], uint16(level))
	}
	return writeWAV(t, dir, name, data)
}

func writeWAV(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	b, err := wav.Bytes(pcm.Clip{Format: pcm.L16Mono16K, Data: data})
	if err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, b, 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

// writeMeeting writes a four second recording where track A (level 100)
// speaks first and track B (level 300) second, with its segments file.
func writeMeeting(t *testing.T, dir string) (audio, segments string) {
	t.Helper()
	f := pcm.L16Mono16K
	data := make([]byte, f.BytesInDuration(4*time.Second))
	half := f.BytesInDuration(2 * time.Second)
	for i := 0; i < len(data); i += 2 {
		level := int16(100)
		if int64(i) >= half {
			level = 300
		}
		binary.LittleEndian.PutUint16(data[i:], uint16(level))
	}
	audio = writeWAV(t, dir, "meeting.wav", data)
	segments = filepath.Join(dir, "meeting.json")
	segs := `[
  {"speaker": "A", "start": 0, "end": 2000, "text": "hello bob"},
  {"speaker": "B", "start": 2000, "end": 4000, "text": "hi alice"}
]`
	if err := os.WriteFile(segments, []byte(segs), 0644); err != nil {
		t.Fatal(err)
	}
	return audio, segments
}

func decode[T any](t *testing.T, s string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("decode %q: %v", s, err)
	}
	return v
}

func TestVersion(t *testing.T) {
	setupTestEnv(t)

	stdout, _, code := runCmd(t, "version")
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(stdout, "speakerid") {
		t.Fatalf("expected 'speakerid', got: %s", stdout)
	}
}

func TestVersionJSON(t *testing.T) {
	setupTestEnv(t)

	stdout, _, code := runCmd(t, "version", "-o", "json")
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(stdout, `"version"`) {
		t.Fatalf("expected JSON, got: %s", stdout)
	}
}

func TestEnrollAndList(t *testing.T) {
	dir := setupTestEnv(t)
	alice := writeTone(t, dir, "alice.wav", 100, time.Second)

	stdout, stderr, code := runCmd(t, "enroll", "Alice", alice, "-o", "json")
	if code != 0 {
		t.Fatalf("enroll: exit %d: %s", code, stderr)
	}
	res := decode[enrollResult](t, stdout)
	if res.Speaker != "Alice" || !strings.HasPrefix(res.ID, "speaker_Alice_") {
		t.Errorf("enroll result = %+v", res)
	}

	_, stderr, code = runCmd(t, "enroll", "Alice", alice)
	if code == 0 || !strings.Contains(stderr, "already exists") {
		t.Errorf("second new enroll: exit %d: %s", code, stderr)
	}
	_, stderr, code = runCmd(t, "enroll", "Bob", alice, "--mode", "additional")
	if code == 0 || !strings.Contains(stderr, "not found") {
		t.Errorf("additional for unknown: exit %d: %s", code, stderr)
	}

	stdout, _, code = runCmd(t, "speakers", "list")
	if code != 0 {
		t.Fatalf("list: exit %d", code)
	}
	if !strings.Contains(stdout, "Alice") {
		t.Errorf("table missing Alice: %s", stdout)
	}
}

func TestEnrollBadMode(t *testing.T) {
	dir := setupTestEnv(t)
	alice := writeTone(t, dir, "alice.wav", 100, time.Second)

	_, _, code := runCmd(t, "enroll", "Alice", alice, "--mode", "replace")
	if code == 0 {
		t.Fatal("expected failure for unknown mode")
	}
}

func TestProcessRenameAndUpdate(t *testing.T) {
	dir := setupTestEnv(t)
	alice := writeTone(t, dir, "alice.wav", 100, time.Second)
	if _, stderr, code := runCmd(t, "enroll", "Alice", alice); code != 0 {
		t.Fatalf("enroll: %s", stderr)
	}

	audio, segments := writeMeeting(t, dir)
	stdout, stderr, code := runCmd(t, "process", audio, "--segments", segments, "-o", "json")
	if code != 0 {
		t.Fatalf("process: exit %d: %s", code, stderr)
	}
	results := decode[[]processResult](t, stdout)
	if len(results) != 1 || results[0].Error != "" {
		t.Fatalf("results = %+v", results)
	}
	id := results[0].ConversationID
	if !strings.HasPrefix(id, "conversation_") {
		t.Fatalf("conversation id = %q", id)
	}
	if got := strings.Join(results[0].Speakers, ","); got != "Alice,Unknown_B" {
		t.Errorf("speakers = %s", got)
	}

	stdout, _, code = runCmd(t, "jobs", "list", "-o", "json")
	if code != 0 {
		t.Fatalf("jobs list: exit %d", code)
	}
	type jobView struct {
		State          string  `json:"state"`
		Progress       float64 `json:"progress"`
		ConversationID string  `json:"conversation_id"`
	}
	jobs := decode[[]jobView](t, stdout)
	if len(jobs) != 1 || jobs[0].State != "completed" || jobs[0].ConversationID != id || jobs[0].Progress != 1 {
		t.Errorf("jobs = %+v", jobs)
	}

	stdout, _, code = runCmd(t, "conversations", "list")
	if code != 0 || !strings.Contains(stdout, id) {
		t.Errorf("conversations list: exit %d: %s", code, stdout)
	}

	stdout, stderr, code = runCmd(t, "rename", id, "Unknown_B", "Bob", "--update-db", "-o", "json")
	if code != 0 {
		t.Fatalf("rename: exit %d: %s", code, stderr)
	}
	type stepView struct {
		Step   string `json:"step"`
		Update *struct {
			Added int `json:"added"`
		} `json:"update"`
	}
	renamed := decode[struct {
		Changes int        `json:"changes"`
		Steps   []stepView `json:"steps"`
	}](t, stdout)
	if renamed.Changes == 0 {
		t.Error("rename reported no changes")
	}
	last := renamed.Steps[len(renamed.Steps)-1]
	if last.Step != "voicedb" || last.Update == nil || last.Update.Added != 1 {
		t.Errorf("voicedb step = %+v", last)
	}

	stdout, _, code = runCmd(t, "conversations", "show", id, "-o", "json")
	if code != 0 {
		t.Fatalf("show: exit %d", code)
	}
	if !strings.Contains(stdout, `"Bob"`) || strings.Contains(stdout, "Unknown_B") {
		t.Errorf("manifest not renamed: %s", stdout)
	}

	bob := writeTone(t, dir, "bob.wav", 300, time.Second)
	stdout, _, code = runCmd(t, "test-match", bob, "-o", "json")
	if code != 0 {
		t.Fatalf("test-match: exit %d", code)
	}
	type matchView struct {
		Speaker string  `json:"speaker"`
		Best    float32 `json:"best"`
	}
	matches := decode[[]matchView](t, stdout)
	if len(matches) == 0 || matches[0].Speaker != "Bob" || matches[0].Best < 0.99 {
		t.Errorf("matches = %+v", matches)
	}

	// The rename already moved Bob's evidence in; a second pass finds
	// only duplicates.
	stdout, _, code = runCmd(t, "update", "Bob", "--from-library", "-o", "json")
	if code != 0 {
		t.Fatalf("update: exit %d", code)
	}
	type summary struct {
		Added     int `json:"added"`
		Duplicate int `json:"duplicate"`
	}
	sum := decode[summary](t, stdout)
	if sum.Added != 0 || sum.Duplicate != 1 {
		t.Errorf("update summary = %+v", sum)
	}
}

func TestRenameUnknownConversation(t *testing.T) {
	setupTestEnv(t)

	_, stderr, code := runCmd(t, "rename", "conversation_20250101_000000", "Unknown_A", "Alice")
	if code == 0 || !strings.Contains(stderr, "not found") {
		t.Errorf("exit %d: %s", code, stderr)
	}
}

func TestResolveAfterEnroll(t *testing.T) {
	dir := setupTestEnv(t)
	audio, segments := writeMeeting(t, dir)

	stdout, stderr, code := runCmd(t, "process", audio, "--segments", segments, "-o", "json")
	if code != 0 {
		t.Fatalf("process: exit %d: %s", code, stderr)
	}
	id := decode[[]processResult](t, stdout)[0].ConversationID

	bob := writeTone(t, dir, "bob.wav", 300, time.Second)
	if _, stderr, code := runCmd(t, "enroll", "Bob", bob); code != 0 {
		t.Fatalf("enroll: %s", stderr)
	}

	stdout, stderr, code = runCmd(t, "resolve", id, "-o", "json")
	if code != 0 {
		t.Fatalf("resolve: exit %d: %s", code, stderr)
	}
	type cluster struct {
		Label   string `json:"label"`
		Status  string `json:"status"`
		Speaker string `json:"speaker"`
	}
	report := decode[struct {
		Clusters []cluster `json:"clusters"`
	}](t, stdout)
	var resolved []string
	for _, c := range report.Clusters {
		if c.Status == "resolved" {
			resolved = append(resolved, c.Label+"="+c.Speaker)
		}
	}
	if strings.Join(resolved, ",") != "Unknown_B=Bob" {
		t.Errorf("clusters = %+v", report.Clusters)
	}
}

func TestAddShortAndDelete(t *testing.T) {
	dir := setupTestEnv(t)
	short := writeTone(t, dir, "alice_short.wav", 100, 500*time.Millisecond)

	stdout, stderr, code := runCmd(t, "add-short", "Alice", short, "-o", "json")
	if code != 0 {
		t.Fatalf("add-short: exit %d: %s", code, stderr)
	}
	type fileView struct {
		Status string `json:"status"`
		ID     string `json:"id"`
	}
	sum := decode[struct {
		Added int        `json:"added"`
		Files []fileView `json:"files"`
	}](t, stdout)
	if sum.Added != 1 || !strings.Contains(sum.Files[0].ID, "_short_") {
		t.Fatalf("summary = %+v", sum)
	}

	if _, _, code := runCmd(t, "embedding", "delete", "speaker_Alice_missing"); code == 0 {
		t.Error("deleting a missing embedding succeeded")
	}
	if _, stderr, code := runCmd(t, "embedding", "delete", sum.Files[0].ID); code != 0 {
		t.Fatalf("embedding delete: %s", stderr)
	}
	if _, _, code := runCmd(t, "speakers", "delete", "Alice"); code == 0 {
		t.Error("deleting a speaker without embeddings succeeded")
	}
}

func TestProcessReportsFailedFiles(t *testing.T) {
	dir := setupTestEnv(t)
	_, segments := writeMeeting(t, dir)
	bad := filepath.Join(dir, "notes.wav")
	if err := os.WriteFile(bad, []byte("not audio"), 0644); err != nil {
		t.Fatal(err)
	}

	stdout, stderr, code := runCmd(t, "process", bad, "--segments", segments, "-o", "json")
	if code == 0 {
		t.Fatal("expected failure")
	}
	if !strings.Contains(stderr, "1 of 1 recordings failed") || !strings.Contains(stderr, "notes.wav:") {
		t.Errorf("stderr = %s", stderr)
	}
	results := decode[[]processResult](t, stdout)
	if results[0].Error == "" || results[0].JobID == "" {
		t.Errorf("result = %+v", results[0])
	}

	stdout, _, _ = runCmd(t, "jobs", "show", results[0].JobID, "-o", "json")
	if !strings.Contains(stdout, `"failed"`) {
		t.Errorf("job not failed: %s", stdout)
	}
}

func TestUpdateDryRunReportsOnStderr(t *testing.T) {
	dir := setupTestEnv(t)
	folder := filepath.Join(dir, "Dana")
	if err := os.MkdirAll(folder, 0755); err != nil {
		t.Fatal(err)
	}
	writeTone(t, folder, "a.wav", 100, time.Second)
	if err := os.WriteFile(filepath.Join(folder, "b.wav"), []byte("broken"), 0644); err != nil {
		t.Fatal(err)
	}

	stdout, stderr, code := runCmd(t, "update", folder, "--dry-run", "-o", "json")
	if code != 0 {
		t.Fatalf("update: exit %d: %s", code, stderr)
	}
	type summary struct {
		Speaker string `json:"speaker"`
		Added   int    `json:"added"`
		Failed  int    `json:"failed"`
	}
	sum := decode[summary](t, stdout)
	if sum.Speaker != "Dana" || sum.Added != 1 || sum.Failed != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if !strings.Contains(stderr, "1 of 2 files failed: b.wav") || !strings.Contains(stderr, "Dry run") {
		t.Errorf("stderr = %s", stderr)
	}

	stdout, _, _ = runCmd(t, "speakers", "list", "-o", "json")
	if strings.Contains(stdout, "Dana") {
		t.Errorf("dry run wrote to the voice database: %s", stdout)
	}
}

func TestProcessAndRenameWithKVGroups(t *testing.T) {
	dir := setupTestEnv(t)
	t.Setenv("SPEAKERID_LIBRARY_GROUPS", "kv")

	audio, segments := writeMeeting(t, dir)
	stdout, stderr, code := runCmd(t, "process", audio, "--segments", segments, "-o", "json")
	if code != 0 {
		t.Fatalf("process: exit %d: %s", code, stderr)
	}
	id := decode[[]processResult](t, stdout)[0].ConversationID
	if _, err := os.Stat(filepath.Join(dir, "library", "processed_conversations", id, "speakers")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("speakers folder written with kv groups: %v", err)
	}

	stdout, stderr, code = runCmd(t, "rename", id, "Unknown_A", "Carol", "-o", "json")
	if code != 0 {
		t.Fatalf("rename: exit %d: %s", code, stderr)
	}
	type stepView struct {
		Step    string `json:"step"`
		Changes int    `json:"changes"`
	}
	res := decode[struct {
		Steps []stepView `json:"steps"`
	}](t, stdout)
	if len(res.Steps) == 0 || res.Steps[0].Step != "regroup" || res.Steps[0].Changes != 1 {
		t.Errorf("steps = %+v", res.Steps)
	}
}
