package conversation

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/haivivi/speakerid/pkg/audio/pcm"
	"github.com/haivivi/speakerid/pkg/audio/wav"
	"github.com/haivivi/speakerid/pkg/grouping"
	"github.com/haivivi/speakerid/pkg/identity"
	"github.com/haivivi/speakerid/pkg/kv"
	"github.com/haivivi/speakerid/pkg/storage"
)

const (
	processedDir = "processed_conversations"
	legacyDir    = "speaker_utterances"
	idPrefix     = "conversation_"
	stampLayout  = "20060102_150405"

	manifestFile   = "metadata.json"
	transcriptFile = "transcript.txt"
)

// Library is the store of processed conversations.
type Library struct {
	fs     storage.FileStore
	groups kv.Store

	mu       sync.Mutex
	reserved map[string]bool
}

// LibraryOption configures a Library.
type LibraryOption func(*Library)

// WithKVGroups keeps speaker groups in store under
// {"groups", <conversation id>} instead of the speakers/ folders.
func WithKVGroups(store kv.Store) LibraryOption {
	return func(l *Library) { l.groups = store }
}

// NewLibrary opens a library on fs.
func NewLibrary(fs storage.FileStore, opts ...LibraryOption) *Library {
	l := &Library{fs: fs, reserved: make(map[string]bool)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FileStore returns the underlying store.
func (l *Library) FileStore() storage.FileStore { return l.fs }

// Dir returns the directory of conversation id.
func (l *Library) Dir(id string) string { return path.Join(processedDir, id) }

func (l *Library) manifestPath(id string) string { return path.Join(l.Dir(id), manifestFile) }

// TranscriptPath returns the path of transcript.txt.
func (l *Library) TranscriptPath(id string) string { return path.Join(l.Dir(id), transcriptFile) }

// UtterancePath returns the path of the utterance audio file.
func (l *Library) UtterancePath(id string, u Utterance) string {
	return path.Join(l.Dir(id), u.AudioFile)
}

// Groups returns the speaker grouping of conversation id.
func (l *Library) Groups(id string) grouping.Store {
	if l.groups != nil {
		return grouping.NewKV(l.groups, kv.Key{"groups", id})
	}
	return grouping.NewFiles(l.fs, path.Join(l.Dir(id), "speakers"))
}

// NewID reserves a fresh conversation id for t. Ids made in the same
// second get a numeric suffix.
func (l *Library) NewID(ctx context.Context, t time.Time) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	base := idPrefix + t.Format(stampLayout)
	for n := 1; ; n++ {
		id := base
		if n > 1 {
			id = fmt.Sprintf("%s_%d", base, n)
		}
		if l.reserved[id] {
			continue
		}
		empty, err := storage.IsEmptyDir(ctx, l.fs, l.Dir(id))
		if err != nil {
			return "", err
		}
		if empty {
			l.reserved[id] = true
			return id, nil
		}
	}
}

// stamp returns the timestamp part of a conversation id.
func stamp(id string) string {
	return strings.TrimPrefix(id, idPrefix)
}

// Load reads the manifest of conversation id.
func (l *Library) Load(ctx context.Context, id string) (*Manifest, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("%w: conversation %q", identity.ErrNotFound, id)
	}
	b, err := storage.ReadFile(ctx, l.fs, l.manifestPath(id))
	if storage.IsNotExist(err) {
		return nil, fmt.Errorf("%w: conversation %s", identity.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return ParseManifest(b)
}

// Save writes the manifest.
func (l *Library) Save(ctx context.Context, m *Manifest) error {
	b, err := m.Encode()
	if err != nil {
		return err
	}
	return storage.WriteFile(ctx, l.fs, l.manifestPath(m.ConversationID), b)
}

// List returns the ids of conversations that have a manifest, oldest first.
func (l *Library) List(ctx context.Context) ([]string, error) {
	entries, err := l.fs.List(ctx, processedDir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if !e.Dir || !strings.HasPrefix(e.Name, idPrefix) {
			continue
		}
		ok, err := l.fs.Exists(ctx, l.manifestPath(e.Name))
		if err != nil {
			return nil, err
		}
		if ok {
			ids = append(ids, e.Name)
		}
	}
	return ids, nil
}

// Clip reads the audio of one utterance.
func (l *Library) Clip(ctx context.Context, id string, u Utterance) (pcm.Clip, error) {
	b, err := storage.ReadFile(ctx, l.fs, l.UtterancePath(id, u))
	if err != nil {
		return pcm.Clip{}, err
	}
	return wav.Parse(b)
}

// RewriteTranscript renames a speaker in transcript.txt. It returns 1 if
// the file changed.
func (l *Library) RewriteTranscript(ctx context.Context, id, old, new string) (int, error) {
	p := l.TranscriptPath(id)
	b, err := storage.ReadFile(ctx, l.fs, p)
	if storage.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	out, changed := RenameInTranscript(string(b), old, new)
	if !changed {
		return 0, nil
	}
	return 1, storage.WriteFile(ctx, l.fs, p, []byte(out))
}

func legacyTranscriptName(id string) string {
	return "transcript_" + stamp(id) + ".txt"
}

// legacyTranscripts finds the flat-layout transcripts of m: the one named
// after the conversation when present, otherwise every transcript from the
// day it was processed.
func (l *Library) legacyTranscripts(ctx context.Context, m *Manifest) ([]string, error) {
	exact := legacyTranscriptName(m.ConversationID)
	ok, err := l.fs.Exists(ctx, exact)
	if err != nil {
		return nil, err
	}
	if ok {
		return []string{exact}, nil
	}
	day, ok := m.ProcessedDay()
	if !ok {
		return nil, nil
	}
	names, err := storage.Files(ctx, l.fs, "")
	if err != nil {
		return nil, err
	}
	var out []string
	prefix := "transcript_" + day + "_"
	for _, n := range names {
		if strings.HasPrefix(n, prefix) && strings.HasSuffix(n, ".txt") {
			out = append(out, n)
		}
	}
	return out, nil
}

// RewriteLegacyTranscripts renames a speaker in the flat-layout
// transcripts of m. It returns the number of files changed.
func (l *Library) RewriteLegacyTranscripts(ctx context.Context, m *Manifest, old, new string) (int, error) {
	paths, err := l.legacyTranscripts(ctx, m)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, p := range paths {
		b, err := storage.ReadFile(ctx, l.fs, p)
		if err != nil {
			return changed, err
		}
		out, ok := RenameInLegacyTranscript(string(b), old, new)
		if !ok {
			continue
		}
		if err := storage.WriteFile(ctx, l.fs, p, []byte(out)); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

// LegacyEvidenceDir returns the flat-layout directory of a speaker.
func LegacyEvidenceDir(speaker string) string {
	return path.Join(legacyDir, speaker)
}

// legacyEvidencePrefix is the file name prefix of a conversation's
// flat-layout utterances. It does not match a suffixed sibling id.
func legacyEvidencePrefix(id string) string {
	return id + "_utterance_"
}

// MoveLegacyEvidence moves the flat-layout files of conversation id from
// old's directory to new's, removing old's directory once empty. Files of
// other conversations stay. It returns the number of files moved.
func (l *Library) MoveLegacyEvidence(ctx context.Context, id, old, new string) (int, error) {
	if old == new {
		return 0, nil
	}
	src, dst := LegacyEvidenceDir(old), LegacyEvidenceDir(new)
	names, err := storage.Files(ctx, l.fs, src)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, n := range names {
		if !strings.HasPrefix(n, legacyEvidencePrefix(id)) {
			continue
		}
		if err := l.fs.Rename(ctx, path.Join(src, n), path.Join(dst, n)); err != nil {
			return moved, err
		}
		moved++
	}
	empty, err := storage.IsEmptyDir(ctx, l.fs, src)
	if err != nil {
		return moved, err
	}
	if empty {
		if err := l.fs.Delete(ctx, src); err != nil {
			return moved, err
		}
	}
	return moved, nil
}

// writeLegacy writes the flat-layout outputs of a processed conversation.
func (l *Library) writeLegacy(ctx context.Context, m *Manifest, title string, clips map[string][]byte) error {
	for i, u := range m.Utterances {
		base := path.Join(LegacyEvidenceDir(u.Speaker), fmt.Sprintf("%s%d", legacyEvidencePrefix(m.ConversationID), i))
		if data, ok := clips[u.ID]; ok {
			if err := storage.WriteFile(ctx, l.fs, base+".wav", data); err != nil {
				return err
			}
		}
		if err := storage.WriteFile(ctx, l.fs, base+".txt", []byte(u.Text)); err != nil {
			return err
		}
	}
	return storage.WriteFile(ctx, l.fs, legacyTranscriptName(m.ConversationID), []byte(LegacyTranscript(title, m.Utterances)))
}
