package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Answer shape errors.
var (
	ErrUnsupportedAnswer   = errors.New("unsupported answer shape")
	ErrAnswerShape         = errors.New("answer shape does not match question type")
	ErrUnknownQuestionType = errors.New("unknown question type")
)

// AnswerKind tags the variant held by an Answer.
type AnswerKind string

const (
	AnswerKindText   AnswerKind = "text"
	AnswerKindNumber AnswerKind = "number"
	AnswerKindBool   AnswerKind = "bool"
	AnswerKindList   AnswerKind = "list"
	AnswerKindMatch  AnswerKind = "match"
	AnswerKindFiles  AnswerKind = "files"
)

// Answer is one slot of a submission's answer map. The concrete type is one of
// TextAnswer, NumberAnswer, BoolAnswer, ListAnswer, MatchAnswer or FileAnswer.
type Answer interface {
	Kind() AnswerKind
	// Empty reports whether the value counts as unanswered.
	Empty() bool
}

// TextAnswer holds short-answer, essay, code, multiple-choice and raw numeric input.
type TextAnswer string

// NumberAnswer holds a numeric answer. Zero is a valid answer.
type NumberAnswer float64

// BoolAnswer holds a true/false answer. False is a valid answer.
type BoolAnswer bool

// ListAnswer holds multi-select, reorder and fill-in-blank answers.
type ListAnswer []string

// MatchPair links a left-hand item to a right-hand item.
type MatchPair struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

// MatchAnswer holds a matching answer.
type MatchAnswer []MatchPair

// FileDescriptor references an uploaded file. Field names follow the stored
// answers document.
type FileDescriptor struct {
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	FileURL  string `json:"fileUrl"`
}

// FileAnswer holds the files uploaded for a file-upload question.
type FileAnswer []FileDescriptor

func (TextAnswer) Kind() AnswerKind   { return AnswerKindText }
func (NumberAnswer) Kind() AnswerKind { return AnswerKindNumber }
func (BoolAnswer) Kind() AnswerKind   { return AnswerKindBool }
func (ListAnswer) Kind() AnswerKind   { return AnswerKindList }
func (MatchAnswer) Kind() AnswerKind  { return AnswerKindMatch }
func (FileAnswer) Kind() AnswerKind   { return AnswerKindFiles }

func (a TextAnswer) Empty() bool  { return a == "" }
func (NumberAnswer) Empty() bool  { return false }
func (BoolAnswer) Empty() bool    { return false }
func (a ListAnswer) Empty() bool  { return len(a) == 0 }
func (a MatchAnswer) Empty() bool { return len(a) == 0 }
func (a FileAnswer) Empty() bool  { return len(a) == 0 }

// IsAnswered reports whether a counts toward progress.
func IsAnswered(a Answer) bool {
	return a != nil && !a.Empty()
}

// CloneAnswer returns a copy of a that shares no backing arrays with it.
func CloneAnswer(a Answer) Answer {
	switch v := a.(type) {
	case ListAnswer:
		return append(ListAnswer(nil), v...)
	case MatchAnswer:
		return append(MatchAnswer(nil), v...)
	case FileAnswer:
		return append(FileAnswer(nil), v...)
	default:
		return a
	}
}

// AnswerMap is the answers document of a submission, keyed by question ID.
// It is always written as a whole; the server replaces rather than merges it.
type AnswerMap map[string]Answer

// Clone returns a deep copy of m.
func (m AnswerMap) Clone() AnswerMap {
	out := make(AnswerMap, len(m))
	for k, v := range m {
		out[k] = CloneAnswer(v)
	}
	return out
}

// UnmarshalJSON decodes the answers document, inferring each value's variant
// from its JSON shape. Null values are dropped.
func (m *AnswerMap) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(AnswerMap, len(raw))
	for qid, v := range raw {
		a, err := SniffAnswer(v)
		if err != nil {
			return fmt.Errorf("answer %s: %w", qid, err)
		}
		if a != nil {
			out[qid] = a
		}
	}
	*m = out
	return nil
}

// SniffAnswer decodes a single JSON value into the variant its shape implies.
// It returns nil for JSON null.
func SniffAnswer(raw json.RawMessage) (Answer, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return TextAnswer(s), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return BoolAnswer(b), nil
	case '[':
		return sniffArray(raw)
	case '{':
		return nil, ErrUnsupportedAnswer
	default:
		n, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedAnswer, raw)
		}
		return NumberAnswer(n), nil
	}
}

func sniffArray(raw json.RawMessage) (Answer, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return ListAnswer{}, nil
	}

	first := bytes.TrimSpace(items[0])
	if len(first) > 0 && first[0] == '{' {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(first, &probe); err != nil {
			return nil, err
		}
		if _, ok := probe["fileUrl"]; ok {
			var files FileAnswer
			if err := json.Unmarshal(raw, &files); err != nil {
				return nil, err
			}
			return files, nil
		}
		if _, ok := probe["left"]; ok {
			var pairs MatchAnswer
			if err := json.Unmarshal(raw, &pairs); err != nil {
				return nil, err
			}
			return pairs, nil
		}
		return nil, ErrUnsupportedAnswer
	}

	var list ListAnswer
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedAnswer, err)
	}
	return list, nil
}

// DecodeAnswer decodes raw for question q and checks that the shape fits the
// question's type. A JSON null decodes to (nil, nil).
func DecodeAnswer(q *Question, raw json.RawMessage) (Answer, error) {
	a, err := SniffAnswer(raw)
	if err != nil || a == nil {
		return a, err
	}

	// "[]" carries no element to sniff from; retag it for the question type.
	if list, ok := a.(ListAnswer); ok && len(list) == 0 {
		switch q.Type {
		case QuestionTypeMatching:
			a = MatchAnswer{}
		case QuestionTypeFileUpload:
			a = FileAnswer{}
		}
	}

	if err := ValidateAnswer(q, a); err != nil {
		return nil, err
	}
	return a, nil
}

// ValidateAnswer checks that a's variant is acceptable for q's type.
func ValidateAnswer(q *Question, a Answer) error {
	if a == nil {
		return nil
	}

	var ok bool
	switch q.Type {
	case QuestionTypeShortAnswer, QuestionTypeEssay, QuestionTypeCode:
		ok = a.Kind() == AnswerKindText
	case QuestionTypeMultipleChoice:
		ok = a.Kind() == AnswerKindText || a.Kind() == AnswerKindNumber
	case QuestionTypeNumeric:
		ok = a.Kind() == AnswerKindNumber || a.Kind() == AnswerKindText
	case QuestionTypeTrueFalse:
		ok = a.Kind() == AnswerKindBool || a.Kind() == AnswerKindText
	case QuestionTypeMultiSelect, QuestionTypeReorder:
		ok = a.Kind() == AnswerKindList
	case QuestionTypeFillInBlank:
		list, isList := a.(ListAnswer)
		ok = isList && (q.BlankCount == 0 || len(list) <= q.BlankCount)
	case QuestionTypeMatching:
		ok = a.Kind() == AnswerKindMatch
	case QuestionTypeFileUpload:
		ok = a.Kind() == AnswerKindFiles
	default:
		return fmt.Errorf("%w: %s", ErrUnknownQuestionType, q.Type)
	}

	if !ok {
		return fmt.Errorf("%w: %s answer for %s question", ErrAnswerShape, a.Kind(), q.Type)
	}
	return nil
}
