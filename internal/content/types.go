package content

import "github.com/edutara/edutara/internal/learning"

// File is one content YAML document: the chapters and questions for a
// subject at a grade.
type File struct {
	Subject   learning.Subject          `yaml:"subject"`
	Grade     int                       `yaml:"grade"`
	Chapters  []Chapter                 `yaml:"chapters"`
	Questions []learning.QuestionRecord `yaml:"questions"`
}

// Chapter is a learning activity a score can be recorded against.
type Chapter struct {
	ID               string              `json:"id" yaml:"id"`
	Title            string              `json:"title" yaml:"title"`
	Description      string              `json:"description,omitempty" yaml:"description"`
	Kind             string              `json:"kind,omitempty" yaml:"kind"`
	Topic            string              `json:"topic,omitempty" yaml:"topic"`
	Difficulty       learning.Difficulty `json:"difficulty" yaml:"difficulty"`
	EstimatedMinutes int                 `json:"estimated_minutes,omitempty" yaml:"estimated_minutes"`
	Subject          learning.Subject    `json:"subject" yaml:"-"`
	Grade            int                 `json:"grade" yaml:"-"`
}

type level struct {
	subject learning.Subject
	grade   int
}
