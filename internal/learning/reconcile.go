package learning

import "time"

// Reconcile folds a new submission into the learner's record for that module.
//
// With no existing record a new one is built with one attempt. Otherwise the
// attempt count always grows, and the result fields are replaced only when
// the new score is strictly higher; an equal score leaves CompletedAt and
// Metadata untouched. The returned record has no ID when it is new.
func Reconcile(existing *ScoreRecord, in ScoreData) (ScoreRecord, error) {
	if err := ValidateStruct(in); err != nil {
		return ScoreRecord{}, err
	}
	if existing != nil && existing.Key() != in.Key() {
		return ScoreRecord{}, invalid("module", "does not match the existing record")
	}

	pct, err := Percentage(in.Score, in.MaxScore)
	if err != nil {
		return ScoreRecord{}, err
	}

	completedAt := in.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	if existing == nil {
		return ScoreRecord{
			OwnerID:     in.OwnerID,
			ModuleType:  in.ModuleType,
			ModuleID:    in.ModuleID,
			Subject:     in.Subject,
			Grade:       in.Grade,
			Score:       in.Score,
			MaxScore:    in.MaxScore,
			Percentage:  pct,
			TimeTaken:   in.TimeTaken,
			Attempts:    1,
			CompletedAt: completedAt,
			Metadata:    submittedMetadata(in),
			CreatedAt:   completedAt,
			UpdatedAt:   completedAt,
		}, nil
	}

	out := *existing
	out.Metadata = cloneMetadata(existing.Metadata)
	out.Attempts = existing.Attempts + 1
	out.UpdatedAt = completedAt
	if in.Score > existing.Score {
		out.Score = in.Score
		out.MaxScore = in.MaxScore
		out.Percentage = pct
		out.TimeTaken = in.TimeTaken
		out.Metadata = submittedMetadata(in)
		out.CompletedAt = completedAt
	}
	return out, nil
}

// SubmittedMetadata is the metadata a submission stores: its metadata with
// the top-level chapter linkage folded in.
func (d ScoreData) SubmittedMetadata() Metadata {
	return submittedMetadata(d)
}

func submittedMetadata(in ScoreData) Metadata {
	md := cloneMetadata(in.Metadata)
	if in.ChapterID != "" {
		md.ChapterID = in.ChapterID
	}
	if in.ChapterName != "" {
		md.ChapterName = in.ChapterName
	}
	return md
}

func cloneMetadata(m Metadata) Metadata {
	out := m
	if m.Responses != nil {
		out.Responses = append([]ResponseEvent(nil), m.Responses...)
	}
	if m.Game != nil {
		g := *m.Game
		out.Game = &g
	}
	if m.Extra != nil {
		out.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}
