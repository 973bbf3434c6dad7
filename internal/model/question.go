package model

import (
	"encoding/json"
	"sort"

	"github.com/google/uuid"
)

// QuestionType is the closed set of question kinds a test may contain.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeTrueFalse      QuestionType = "TRUE_FALSE"
	QuestionTypeShortAnswer    QuestionType = "SHORT_ANSWER"
	QuestionTypeEssay          QuestionType = "ESSAY"
	QuestionTypeFileUpload     QuestionType = "FILE_UPLOAD"
	QuestionTypeMultiSelect    QuestionType = "MULTI_SELECT"
	QuestionTypeCode           QuestionType = "CODE"
	QuestionTypeMatching       QuestionType = "MATCHING"
	QuestionTypeReorder        QuestionType = "REORDER"
	QuestionTypeFillInBlank    QuestionType = "FILL_IN_BLANK"
	QuestionTypeNumeric        QuestionType = "NUMERIC"
)

// Question represents a single test question.
type Question struct {
	ID           uuid.UUID    `json:"id"`
	TestID       uuid.UUID    `json:"test_id"`
	Type         QuestionType `json:"question_type"`
	QuestionText string       `json:"question_text"`
	Points       float64      `json:"points"`
	Options      []string     `json:"options,omitempty"`
	MatchPairs   []MatchPair  `json:"match_pairs,omitempty"`
	ReorderItems []string     `json:"reorder_items,omitempty"`
	BlankCount   int          `json:"blank_count,omitempty"`
	Language     string       `json:"language,omitempty"`
	OrderNum     int          `json:"order_num"`
	// CanonicalAnswer is only read when building a review.
	CanonicalAnswer json.RawMessage `json:"canonical_answer,omitempty"`
}

// QuestionForStudent is a question without its canonical answer. Matching
// questions expose both sides separately so the pairing is not given away.
type QuestionForStudent struct {
	ID           uuid.UUID    `json:"id"`
	Type         QuestionType `json:"question_type"`
	QuestionText string       `json:"question_text"`
	Points       float64      `json:"points"`
	Options      []string     `json:"options,omitempty"`
	MatchLeft    []string     `json:"match_left,omitempty"`
	MatchRight   []string     `json:"match_right,omitempty"`
	ReorderItems []string     `json:"reorder_items,omitempty"`
	BlankCount   int          `json:"blank_count,omitempty"`
	Language     string       `json:"language,omitempty"`
	OrderNum     int          `json:"order_num"`
}

// ForStudent strips the canonical answer from q.
func (q *Question) ForStudent() QuestionForStudent {
	out := QuestionForStudent{
		ID:           q.ID,
		Type:         q.Type,
		QuestionText: q.QuestionText,
		Points:       q.Points,
		Options:      q.Options,
		ReorderItems: q.ReorderItems,
		BlankCount:   q.BlankCount,
		Language:     q.Language,
		OrderNum:     q.OrderNum,
	}

	if len(q.MatchPairs) > 0 {
		out.MatchLeft = make([]string, len(q.MatchPairs))
		out.MatchRight = make([]string, len(q.MatchPairs))
		for i, p := range q.MatchPairs {
			out.MatchLeft[i] = p.Left
			out.MatchRight[i] = p.Right
		}
		sort.Strings(out.MatchRight)
	}
	return out
}
