package learning

import (
	"math"
	"sort"
)

const (
	recentActivityLimit = 10
	recentSubjectLimit  = 5
)

// RoundHalfUp rounds to the nearest integer, halves going up.
func RoundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

// Percentage returns round(100*score/max).
func Percentage(score, max int) (int, error) {
	if max <= 0 {
		return 0, invalid("max_score", "must be greater than 0")
	}
	return RoundHalfUp(100 * float64(score) / float64(max)), nil
}

func summarize(records []ScoreRecord) Summary {
	if len(records) == 0 {
		return Summary{}
	}
	sum, best := 0, records[0].Percentage
	for _, r := range records {
		sum += r.Percentage
		if r.Percentage > best {
			best = r.Percentage
		}
	}
	return Summary{
		Scores:  len(records),
		Average: RoundHalfUp(float64(sum) / float64(len(records))),
		Best:    best,
	}
}

// newestFirst returns a copy of records ordered by CompletedAt descending.
// Records completed at the same instant keep their input order.
func newestFirst(records []ScoreRecord) []ScoreRecord {
	out := make([]ScoreRecord, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CompletedAt.After(out[j].CompletedAt)
	})
	return out
}

func head(records []ScoreRecord, n int) []ScoreRecord {
	if len(records) > n {
		return records[:n]
	}
	return records
}

func groupBySubject(records []ScoreRecord) map[Subject][]ScoreRecord {
	out := make(map[Subject][]ScoreRecord)
	for _, r := range records {
		out[r.Subject] = append(out[r.Subject], r)
	}
	return out
}

func groupByGrade(records []ScoreRecord) map[int][]ScoreRecord {
	out := make(map[int][]ScoreRecord)
	for _, r := range records {
		out[r.Grade] = append(out[r.Grade], r)
	}
	return out
}

// ComputeStats reduces a learner's score history to the dashboard view.
// Math and English are always present in Subjects, zeroed when unused.
func ComputeStats(records []ScoreRecord) AggregateStats {
	stats := AggregateStats{
		Subjects:       make(map[Subject]Summary, len(Subjects)),
		Grades:         make(map[int]GradeSummary),
		RecentActivity: []ScoreRecord{},
	}
	for _, s := range Subjects {
		stats.Subjects[s] = Summary{}
	}
	if len(records) == 0 {
		return stats
	}

	all := summarize(records)
	stats.TotalScores = all.Scores
	stats.AveragePercentage = all.Average
	stats.BestScore = all.Best
	for _, r := range records {
		stats.TotalTime += r.TimeTaken
	}

	for subject, rs := range groupBySubject(records) {
		stats.Subjects[subject] = summarize(rs)
	}

	for grade, rs := range groupByGrade(records) {
		gs := GradeSummary{
			Summary:  summarize(rs),
			Subjects: make(map[Subject]Summary),
		}
		for subject, srs := range groupBySubject(rs) {
			gs.Subjects[subject] = summarize(srs)
		}
		stats.Grades[grade] = gs
	}

	stats.RecentActivity = head(newestFirst(records), recentActivityLimit)
	return stats
}

func (f Filter) match(r ScoreRecord) bool {
	if f.Subject != "" && r.Subject != f.Subject {
		return false
	}
	if f.Grade != 0 && r.Grade != f.Grade {
		return false
	}
	return true
}

// ComputeBreakdown partitions the filtered records by module type, grade and
// subject. Grades outside 1-5 only appear in the module buckets.
func ComputeBreakdown(records []ScoreRecord, f Filter) Breakdown {
	var matched []ScoreRecord
	for _, r := range records {
		if f.match(r) {
			matched = append(matched, r)
		}
	}
	matched = newestFirst(matched)

	byModule := make(map[ModuleType][]ScoreRecord)
	for _, r := range matched {
		byModule[r.ModuleType] = append(byModule[r.ModuleType], r)
	}
	bucket := func(m ModuleType) ModuleBucket {
		rs := byModule[m]
		if rs == nil {
			rs = []ScoreRecord{}
		}
		return ModuleBucket{Summary: summarize(rs), Records: rs}
	}

	b := Breakdown{
		Assessments: bucket(ModuleAssessment),
		Games:       bucket(ModuleGame),
		Chapters:    bucket(ModuleChapter),
		Challenges:  bucket(ModuleChallenge),
		ByGrade:     make(map[int]GradeBreakdown),
		BySubject:   make(map[Subject]SubjectBreakdown),
	}

	grades := groupByGrade(matched)
	for g := MinGrade; g <= MaxGrade; g++ {
		rs, ok := grades[g]
		if !ok {
			continue
		}
		gb := GradeBreakdown{
			Summary:  summarize(rs),
			Subjects: make(map[Subject][]ScoreRecord, len(Subjects)),
		}
		for _, s := range Subjects {
			gb.Subjects[s] = []ScoreRecord{}
		}
		for s, srs := range groupBySubject(rs) {
			gb.Subjects[s] = srs
		}
		b.ByGrade[g] = gb
	}

	subjects := groupBySubject(matched)
	for _, s := range Subjects {
		rs, ok := subjects[s]
		if !ok {
			continue
		}
		b.BySubject[s] = SubjectBreakdown{
			Summary: summarize(rs),
			Recent:  head(rs, recentSubjectLimit),
		}
	}

	return b
}
