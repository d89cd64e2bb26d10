package learning

import "fmt"

// ChapterID returns the chapter a record counts towards: the chapter in its
// metadata, or its module id when none was recorded.
func (r ScoreRecord) ChapterID() string {
	if r.Metadata.ChapterID != "" {
		return r.Metadata.ChapterID
	}
	return r.ModuleID
}

// ComputeChapterProgress keeps, for every chapter, the record with the
// highest score and counts how many chapter records share that chapter.
// A chapter is scoped to its subject and grade, so the same chapter id in two
// grades yields two entries. Non-chapter records are ignored. Chapters appear
// in first-seen order.
func ComputeChapterProgress(records []ScoreRecord) []ChapterProgress {
	type chapterKey struct {
		subject Subject
		grade   int
		id      string
	}
	index := make(map[chapterKey]int)
	var out []ChapterProgress

	for _, r := range records {
		if r.ModuleType != ModuleChapter {
			continue
		}
		id := r.ChapterID()
		k := chapterKey{r.Subject, r.Grade, id}
		i, seen := index[k]
		if !seen {
			index[k] = len(out)
			out = append(out, progressFrom(id, r))
			out[len(out)-1].Attempts = 1
			continue
		}
		out[i].Attempts++
		if r.Score > out[i].BestScore {
			attempts := out[i].Attempts
			out[i] = progressFrom(id, r)
			out[i].Attempts = attempts
		}
	}

	if out == nil {
		return []ChapterProgress{}
	}
	return out
}

func progressFrom(id string, r ScoreRecord) ChapterProgress {
	name := r.Metadata.ChapterName
	if name == "" {
		name = fmt.Sprintf("Chapter %s", id)
	}
	return ChapterProgress{
		ChapterID:     id,
		ChapterName:   name,
		Subject:       r.Subject,
		Grade:         r.Grade,
		BestScore:     r.Score,
		Attempts:      0,
		LastCompleted: r.CompletedAt,
		Percentage:    r.Percentage,
	}
}
