package service

import (
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/stemsi/exstem-lms/internal/model"
)

// grade is the outcome for one question. Manual questions wait for a teacher.
type grade struct {
	awarded float64
	correct bool
	manual  bool
}

// gradeQuestion scores a against q's canonical answer.
func gradeQuestion(q *model.Question, a model.Answer) grade {
	switch q.Type {
	case model.QuestionTypeEssay, model.QuestionTypeCode, model.QuestionTypeFileUpload:
		return grade{manual: true}
	}

	canon, err := model.DecodeAnswer(q, q.CanonicalAnswer)
	if err != nil || canon == nil {
		return grade{manual: true}
	}
	if !model.IsAnswered(a) || model.ValidateAnswer(q, a) != nil {
		return grade{}
	}

	switch q.Type {
	case model.QuestionTypeMultipleChoice, model.QuestionTypeTrueFalse, model.QuestionTypeShortAnswer:
		return full(q, sameText(scalarText(a), scalarText(canon)))

	case model.QuestionTypeNumeric:
		got, err1 := strconv.ParseFloat(strings.TrimSpace(scalarText(a)), 64)
		want, err2 := strconv.ParseFloat(strings.TrimSpace(scalarText(canon)), 64)
		if err1 != nil || err2 != nil {
			return grade{}
		}
		return full(q, math.Abs(got-want) <= 1e-6*math.Max(1, math.Abs(want)))

	case model.QuestionTypeMultiSelect:
		got, want := normalized(a.(model.ListAnswer)), normalized(canon.(model.ListAnswer))
		slices.Sort(got)
		slices.Sort(want)
		return full(q, slices.Equal(got, want))

	case model.QuestionTypeReorder:
		return full(q, slices.Equal(normalized(a.(model.ListAnswer)), normalized(canon.(model.ListAnswer))))

	case model.QuestionTypeMatching:
		return full(q, samePairs(a.(model.MatchAnswer), canon.(model.MatchAnswer)))

	case model.QuestionTypeFillInBlank:
		got, want := a.(model.ListAnswer), canon.(model.ListAnswer)
		if len(want) == 0 {
			return grade{manual: true}
		}
		hits := 0
		for i, w := range want {
			if i < len(got) && sameText(got[i], w) {
				hits++
			}
		}
		return grade{
			awarded: q.Points * float64(hits) / float64(len(want)),
			correct: hits == len(want),
		}
	}
	return grade{manual: true}
}

func full(q *model.Question, ok bool) grade {
	if !ok {
		return grade{}
	}
	return grade{awarded: q.Points, correct: true}
}

func scalarText(a model.Answer) string {
	switch v := a.(type) {
	case model.TextAnswer:
		return string(v)
	case model.NumberAnswer:
		return strconv.FormatFloat(float64(v), 'f', -1, 64)
	case model.BoolAnswer:
		return strconv.FormatBool(bool(v))
	}
	return ""
}

func sameText(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func normalized(list []string) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = strings.ToLower(strings.TrimSpace(s))
	}
	return out
}

func samePairs(got, want model.MatchAnswer) bool {
	if len(got) != len(want) {
		return false
	}
	pairs := make(map[model.MatchPair]int, len(want))
	for _, p := range want {
		pairs[model.MatchPair{Left: strings.TrimSpace(p.Left), Right: strings.TrimSpace(p.Right)}]++
	}
	for _, p := range got {
		key := model.MatchPair{Left: strings.TrimSpace(p.Left), Right: strings.TrimSpace(p.Right)}
		if pairs[key] == 0 {
			return false
		}
		pairs[key]--
	}
	return true
}
