package identity

import (
	"github.com/haivivi/speakerid/pkg/vecstore"
	"github.com/haivivi/speakerid/pkg/voiceprint"
)

// Duplicate reports the closest existing embedding. Found is set iff its
// similarity exceeds the threshold.
type Duplicate struct {
	Found      bool
	ID         string
	Similarity float32
}

// FindDuplicate scans existing for near copies of candidate. It is a pure
// function; callers fetch the speaker's evidence once per batch.
func FindDuplicate(candidate []float32, existing []vecstore.Record, threshold float32) Duplicate {
	d := Duplicate{Similarity: -1}
	for _, r := range existing {
		if s := voiceprint.Cosine(candidate, r.Vector); s > d.Similarity {
			d.Similarity = s
			d.ID = r.ID
		}
	}
	if d.ID == "" {
		return Duplicate{}
	}
	d.Found = d.Similarity > threshold
	return d
}
