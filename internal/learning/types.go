// Package learning holds the recommendation and score aggregation engine.
// Every function here is pure: inputs are never mutated and no I/O is done.
package learning

import "time"

// Subject is a taught subject.
type Subject string

const (
	SubjectMath    Subject = "math"
	SubjectEnglish Subject = "english"
)

// Subjects lists the subjects in display order.
var Subjects = []Subject{SubjectMath, SubjectEnglish}

// Valid reports whether s is a known subject.
func (s Subject) Valid() bool {
	return s == SubjectMath || s == SubjectEnglish
}

// Difficulty is a question or quiz difficulty tier.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Valid reports whether d is a known tier.
func (d Difficulty) Valid() bool {
	return d == DifficultyEasy || d == DifficultyMedium || d == DifficultyHard
}

// Rank orders tiers: easy < medium < hard.
func (d Difficulty) Rank() int {
	switch d {
	case DifficultyEasy:
		return 0
	case DifficultyMedium:
		return 1
	case DifficultyHard:
		return 2
	default:
		return -1
	}
}

// ModuleType is the kind of activity a score belongs to.
type ModuleType string

const (
	ModuleAssessment ModuleType = "assessment"
	ModuleGame       ModuleType = "game"
	ModuleChapter    ModuleType = "chapter"
	ModuleChallenge  ModuleType = "challenge"
)

// ModuleTypes lists all module types.
var ModuleTypes = []ModuleType{ModuleAssessment, ModuleGame, ModuleChapter, ModuleChallenge}

// Valid reports whether m is a known module type.
func (m ModuleType) Valid() bool {
	switch m {
	case ModuleAssessment, ModuleGame, ModuleChapter, ModuleChallenge:
		return true
	}
	return false
}

const (
	MinGrade = 1
	MaxGrade = 5
)

// QuestionRecord is a static content item.
type QuestionRecord struct {
	ID            string     `json:"id" yaml:"id"`
	Subject       Subject    `json:"subject" yaml:"subject"`
	Grade         int        `json:"grade" yaml:"grade"`
	Topic         string     `json:"topic" yaml:"topic"`
	Difficulty    Difficulty `json:"difficulty" yaml:"difficulty"`
	Text          string     `json:"text" yaml:"text"`
	Options       []string   `json:"options" yaml:"options"`
	CorrectAnswer int        `json:"correct_answer" yaml:"correct_answer"`
	Explanation   string     `json:"explanation,omitempty" yaml:"explanation"`
}

// ResponseEvent is one answered question during a quiz attempt.
type ResponseEvent struct {
	QuestionID     string `json:"question_id"`
	SelectedAnswer int    `json:"selected_answer"`
	IsCorrect      bool   `json:"is_correct"`
	TimeTaken      int    `json:"time_taken"` // seconds
}

// NewResponseEvent records an answer to q, deriving correctness from the question.
func NewResponseEvent(q QuestionRecord, selected, seconds int) ResponseEvent {
	return ResponseEvent{
		QuestionID:     q.ID,
		SelectedAnswer: selected,
		IsCorrect:      selected == q.CorrectAnswer,
		TimeTaken:      seconds,
	}
}

// GameDetails carries game-specific outcome data.
type GameDetails struct {
	Level     int `json:"level,omitempty"`
	Streak    int `json:"streak,omitempty"`
	Lives     int `json:"lives,omitempty"`
	BestCombo int `json:"best_combo,omitempty"`
}

// Metadata is the structured bag attached to a ScoreRecord.
type Metadata struct {
	ChapterID   string          `json:"chapter_id,omitempty"`
	ChapterName string          `json:"chapter_name,omitempty"`
	Responses   []ResponseEvent `json:"responses,omitempty"`
	Game        *GameDetails    `json:"game,omitempty"`
	Extra       map[string]any  `json:"extra,omitempty"`
}

// ModuleKey identifies the single score record a learner may hold per module.
type ModuleKey struct {
	OwnerID    string     `json:"owner_id"`
	ModuleType ModuleType `json:"module_type"`
	ModuleID   string     `json:"module_id"`
	Subject    Subject    `json:"subject"`
	Grade      int        `json:"grade"`
}

// ScoreRecord is the persisted outcome of one completed activity.
type ScoreRecord struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"user_id"`
	ModuleType  ModuleType `json:"module_type"`
	ModuleID    string     `json:"module_id"`
	Subject     Subject    `json:"subject"`
	Grade       int        `json:"grade"`
	Score       int        `json:"score"`
	MaxScore    int        `json:"max_score"`
	Percentage  int        `json:"percentage"`
	TimeTaken   int        `json:"time_taken"`
	Attempts    int        `json:"attempts"`
	CompletedAt time.Time  `json:"completed_at"`
	Metadata    Metadata   `json:"metadata"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Key returns the module key of the record.
func (r ScoreRecord) Key() ModuleKey {
	return ModuleKey{
		OwnerID:    r.OwnerID,
		ModuleType: r.ModuleType,
		ModuleID:   r.ModuleID,
		Subject:    r.Subject,
		Grade:      r.Grade,
	}
}

// ScoreData is a submitted result for one activity.
type ScoreData struct {
	OwnerID     string     `json:"-" validate:"required"`
	ModuleType  ModuleType `json:"module_type" validate:"required,oneof=assessment game chapter challenge"`
	ModuleID    string     `json:"module_id" validate:"required,max=128"`
	Subject     Subject    `json:"subject" validate:"required,oneof=math english"`
	Grade       int        `json:"grade" validate:"min=1,max=5"`
	Score       int        `json:"score" validate:"min=0,ltefield=MaxScore"`
	MaxScore    int        `json:"max_score" validate:"gt=0"`
	TimeTaken   int        `json:"time_taken" validate:"min=0"`
	ChapterID   string     `json:"chapter_id,omitempty" validate:"max=128"`
	ChapterName string     `json:"chapter_name,omitempty" validate:"max=256"`
	Metadata    Metadata   `json:"metadata"`

	// CompletedAt is never read from a request; zero means the time the
	// store reconciles the submission.
	CompletedAt time.Time `json:"-"`
}

// Key returns the module key the submission targets.
func (d ScoreData) Key() ModuleKey {
	return ModuleKey{
		OwnerID:    d.OwnerID,
		ModuleType: d.ModuleType,
		ModuleID:   d.ModuleID,
		Subject:    d.Subject,
		Grade:      d.Grade,
	}
}

// RecommendationResult guides the content of the next quiz.
type RecommendationResult struct {
	RecommendedTopics     []string           `json:"recommended_topics"`
	RecommendedDifficulty Difficulty         `json:"recommended_difficulty"`
	TopicAccuracy         map[string]float64 `json:"topic_accuracy"`
	OverallAccuracy       float64            `json:"overall_accuracy"`
}

// Summary is a count/average/best rollup over a set of records.
type Summary struct {
	Scores  int `json:"scores"`
	Average int `json:"average"`
	Best    int `json:"best"`
}

// GradeSummary is a Summary for one grade with a nested subject split.
type GradeSummary struct {
	Summary
	Subjects map[Subject]Summary `json:"subjects"`
}

// AggregateStats is the dashboard view over a learner's score history.
type AggregateStats struct {
	TotalScores       int                  `json:"total_scores"`
	AveragePercentage int                  `json:"average_percentage"`
	BestScore         int                  `json:"best_score"`
	TotalTime         int                  `json:"total_time"`
	Subjects          map[Subject]Summary  `json:"subjects"`
	Grades            map[int]GradeSummary `json:"grades"`
	RecentActivity    []ScoreRecord        `json:"recent_activity"`
}

// ModuleBucket holds the records of one module type.
type ModuleBucket struct {
	Summary
	Records []ScoreRecord `json:"records"`
}

// GradeBreakdown holds the records of one grade split by subject.
type GradeBreakdown struct {
	Summary
	Subjects map[Subject][]ScoreRecord `json:"subjects"`
}

// SubjectBreakdown holds the rollup of one subject and its latest records.
type SubjectBreakdown struct {
	Summary
	Recent []ScoreRecord `json:"recent"`
}

// Breakdown is the analytics view partitioned by module type, grade and subject.
type Breakdown struct {
	Assessments ModuleBucket                 `json:"assessments"`
	Games       ModuleBucket                 `json:"games"`
	Chapters    ModuleBucket                 `json:"chapters"`
	Challenges  ModuleBucket                 `json:"challenges"`
	ByGrade     map[int]GradeBreakdown       `json:"by_grade"`
	BySubject   map[Subject]SubjectBreakdown `json:"by_subject"`
}

// Filter restricts a breakdown to one subject and/or grade. Zero values match all.
type Filter struct {
	Subject Subject
	Grade   int
}

// ChapterProgress is the best result a learner holds for one chapter.
type ChapterProgress struct {
	ChapterID     string    `json:"chapter_id"`
	ChapterName   string    `json:"chapter_name"`
	Subject       Subject   `json:"subject"`
	Grade         int       `json:"grade"`
	BestScore     int       `json:"best_score"`
	Attempts      int       `json:"attempts"`
	LastCompleted time.Time `json:"last_completed"`
	Percentage    int       `json:"percentage"`
}
