// Package bank holds the in-memory question bank: the ground-truth tree of
// chapters, knowledge units, questions and options that answer resolution
// runs against. The bank owns every node; callers navigate by id or index and
// never take deep copies. A loaded bank is read-only for the rest of the run.
package bank

import "fmt"

// QuestionType classifies how a question is answered.
type QuestionType int

const (
	Single   QuestionType = iota // one correct option
	Multiple                     // several correct options
	Boolean                      // true/false
)

func (t QuestionType) String() string {
	switch t {
	case Multiple:
		return "multiple"
	case Boolean:
		return "boolean"
	default:
		return "single"
	}
}

// Option is one answer choice of a bank question.
type Option struct {
	ID      string
	Content string
	Order   int
	Correct bool
}

// Question is a bank-side question with its raw (possibly markup-laden)
// title. The rendered, session-side counterpart lives in the match package.
type Question struct {
	ID      string
	Title   string
	Type    QuestionType
	Options []Option
}

// CorrectOptions returns the options flagged correct, in bank order.
func (q *Question) CorrectOptions() []Option {
	var out []Option
	for _, o := range q.Options {
		if o.Correct {
			out = append(out, o)
		}
	}
	return out
}

// KnowledgeUnit is the smallest assessable grouping of questions.
type KnowledgeUnit struct {
	ID        string
	Name      string
	ChapterID string
	Ordinal   int
	Questions []Question
}

// QuestionByID returns the unit's question with the given id, or nil.
func (u *KnowledgeUnit) QuestionByID(id string) *Question {
	for i := range u.Questions {
		if u.Questions[i].ID == id {
			return &u.Questions[i]
		}
	}
	return nil
}

// Chapter groups knowledge units.
type Chapter struct {
	ID    string
	Title string
	Units []KnowledgeUnit
}

type unitRef struct{ chapter, unit int }

type questionRef struct{ chapter, unit, question int }

// Bank is the ownership root. Index maps are built once in New and point
// back into the chapter slice, so lookups hand out pointers into the arena.
type Bank struct {
	CourseName string
	Chapters   []Chapter

	unitsByID     map[string]unitRef
	questionsByID map[string]questionRef
}

// New builds a bank from an already-assembled chapter tree, assigning unit
// ordinals and indexing units and questions by id. Duplicate question ids
// violate the bank invariant and fail the build.
func New(courseName string, chapters []Chapter) (*Bank, error) {
	b := &Bank{
		CourseName:    courseName,
		Chapters:      chapters,
		unitsByID:     make(map[string]unitRef),
		questionsByID: make(map[string]questionRef),
	}
	for ci := range b.Chapters {
		ch := &b.Chapters[ci]
		for ui := range ch.Units {
			u := &ch.Units[ui]
			u.ChapterID = ch.ID
			u.Ordinal = ui
			if u.ID != "" {
				b.unitsByID[u.ID] = unitRef{ci, ui}
			}
			for qi := range u.Questions {
				q := &u.Questions[qi]
				if _, dup := b.questionsByID[q.ID]; dup {
					return nil, fmt.Errorf("bank: duplicate question id %q", q.ID)
				}
				b.questionsByID[q.ID] = questionRef{ci, ui, qi}
			}
		}
	}
	return b, nil
}

// Unit returns the knowledge unit with the given id, or nil.
func (b *Bank) Unit(id string) *KnowledgeUnit {
	ref, ok := b.unitsByID[id]
	if !ok {
		return nil
	}
	return &b.Chapters[ref.chapter].Units[ref.unit]
}

// UnitByName returns the first knowledge unit with the given name, or nil.
// Names are not guaranteed unique across chapters; Unit is the authoritative
// lookup.
func (b *Bank) UnitByName(name string) *KnowledgeUnit {
	if name == "" {
		return nil
	}
	for ci := range b.Chapters {
		for ui := range b.Chapters[ci].Units {
			if b.Chapters[ci].Units[ui].Name == name {
				return &b.Chapters[ci].Units[ui]
			}
		}
	}
	return nil
}

// Question returns the question with the given id, or nil.
func (b *Bank) Question(id string) *Question {
	ref, ok := b.questionsByID[id]
	if !ok {
		return nil
	}
	return &b.Chapters[ref.chapter].Units[ref.unit].Questions[ref.question]
}

// Stats reports tree sizes for run-start logging.
func (b *Bank) Stats() (chapters, units, questions, options int) {
	chapters = len(b.Chapters)
	for ci := range b.Chapters {
		units += len(b.Chapters[ci].Units)
		for ui := range b.Chapters[ci].Units {
			questions += len(b.Chapters[ci].Units[ui].Questions)
			for qi := range b.Chapters[ci].Units[ui].Questions {
				options += len(b.Chapters[ci].Units[ui].Questions[qi].Options)
			}
		}
	}
	return
}
