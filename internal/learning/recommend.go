package learning

import (
	"fmt"
	"sort"
)

const (
	hardThreshold = 0.85
	easyThreshold = 0.50

	// weakTopicCount is how many of the weakest topics the next quiz focuses on.
	weakTopicCount = 2
)

// DifficultyFor maps an overall accuracy in [0,1] to the next quiz's tier.
// Both thresholds themselves map to medium.
func DifficultyFor(accuracy float64) Difficulty {
	switch {
	case accuracy > hardThreshold:
		return DifficultyHard
	case accuracy < easyThreshold:
		return DifficultyEasy
	default:
		return DifficultyMedium
	}
}

type topicTally struct {
	topic   string
	correct int
	total   int
}

// Recommend analyses a learner's recent responses against the question
// catalog and picks the weakest topics and a difficulty for the next quiz.
// Responses whose question is not in the catalog are left out of every
// accuracy figure.
func Recommend(responses []ResponseEvent, catalog []QuestionRecord) (RecommendationResult, error) {
	for i, r := range responses {
		if err := validateResponse(r); err != nil {
			return RecommendationResult{}, fmt.Errorf("response %d: %w", i, err)
		}
	}

	questions := make(map[string]QuestionRecord, len(catalog))
	for _, q := range catalog {
		questions[q.ID] = q
	}

	// Tallies keep first-encounter order so ties rank by appearance.
	var tallies []*topicTally
	byTopic := make(map[string]*topicTally)
	resolved, correct := 0, 0
	for _, r := range responses {
		q, ok := questions[r.QuestionID]
		if !ok {
			continue
		}
		t, ok := byTopic[q.Topic]
		if !ok {
			t = &topicTally{topic: q.Topic}
			byTopic[q.Topic] = t
			tallies = append(tallies, t)
		}
		t.total++
		resolved++
		if r.IsCorrect {
			t.correct++
			correct++
		}
	}

	if resolved == 0 {
		return emptyRecommendation(), nil
	}

	accuracy := make(map[string]float64, len(tallies))
	for _, t := range tallies {
		accuracy[t.topic] = float64(t.correct) / float64(t.total)
	}

	ranked := make([]string, len(tallies))
	for i, t := range tallies {
		ranked[i] = t.topic
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return accuracy[ranked[i]] < accuracy[ranked[j]]
	})
	if len(ranked) > weakTopicCount {
		ranked = ranked[:weakTopicCount]
	}

	overall := float64(correct) / float64(resolved)
	return RecommendationResult{
		RecommendedTopics:     ranked,
		RecommendedDifficulty: DifficultyFor(overall),
		TopicAccuracy:         accuracy,
		OverallAccuracy:       overall,
	}, nil
}

func emptyRecommendation() RecommendationResult {
	return RecommendationResult{
		RecommendedTopics:     []string{},
		RecommendedDifficulty: DifficultyEasy,
		TopicAccuracy:         map[string]float64{},
		OverallAccuracy:       0,
	}
}

func validateResponse(r ResponseEvent) error {
	if r.QuestionID == "" {
		return invalid("question_id", "is required")
	}
	if r.SelectedAnswer < 0 {
		return invalid("selected_answer", "must not be negative")
	}
	if r.TimeTaken < 0 {
		return invalid("time_taken", "must not be negative")
	}
	return nil
}
