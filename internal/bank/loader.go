package bank

import (
	"encoding/json"
	"fmt"
	"os"
)

// The captured bank document comes in two shapes: a single-course export
// nested under class.course, and a flat multi-chapter export. Field names
// (including the platform's "oppention" spelling) follow the capture format.

type optionDoc struct {
	ID      string `json:"id"`
	IsTrue  bool   `json:"isTrue"`
	Content string `json:"oppentionContent"`
	Order   int    `json:"oppentionOrder"`
}

type questionDoc struct {
	QuestionID    string      `json:"QuestionID"`
	QuestionTitle string      `json:"QuestionTitle"`
	QuestionsType int         `json:"questionsType"`
	Options       []optionDoc `json:"options"`
}

type knowledgeDoc struct {
	KnowledgeID string        `json:"KnowledgeID"`
	Knowledge   string        `json:"Knowledge"`
	Questions   []questionDoc `json:"questions"`
}

type chapterDoc struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Knowledges []knowledgeDoc `json:"knowledges"`
}

type bankDoc struct {
	Class *struct {
		Course *struct {
			CourseName string       `json:"courseName"`
			Chapters   []chapterDoc `json:"chapters"`
		} `json:"course"`
	} `json:"class"`
	CourseName string       `json:"courseName"`
	Chapters   []chapterDoc `json:"chapters"`
}

// Load reads a captured bank document from disk.
func Load(path string) (*Bank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bank: %w", err)
	}
	return Parse(data)
}

// Parse builds a Bank from a captured bank document.
func Parse(data []byte) (*Bank, error) {
	var doc bankDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode bank: %w", err)
	}

	name := doc.CourseName
	chapters := doc.Chapters
	if doc.Class != nil && doc.Class.Course != nil {
		name = doc.Class.Course.CourseName
		chapters = doc.Class.Course.Chapters
	}
	if len(chapters) == 0 {
		return nil, fmt.Errorf("decode bank: no chapters found")
	}

	out := make([]Chapter, 0, len(chapters))
	for _, ch := range chapters {
		units := make([]KnowledgeUnit, 0, len(ch.Knowledges))
		for _, kn := range ch.Knowledges {
			questions := make([]Question, 0, len(kn.Questions))
			for _, qd := range kn.Questions {
				opts := make([]Option, 0, len(qd.Options))
				for _, od := range qd.Options {
					opts = append(opts, Option{
						ID:      od.ID,
						Content: od.Content,
						Order:   od.Order,
						Correct: od.IsTrue,
					})
				}
				questions = append(questions, Question{
					ID:      qd.QuestionID,
					Title:   qd.QuestionTitle,
					Type:    questionType(qd.QuestionsType),
					Options: opts,
				})
			}
			units = append(units, KnowledgeUnit{
				ID:        kn.KnowledgeID,
				Name:      kn.Knowledge,
				Questions: questions,
			})
		}
		out = append(out, Chapter{ID: ch.ID, Title: ch.Title, Units: units})
	}
	return New(name, out)
}

func questionType(code int) QuestionType {
	switch code {
	case 1:
		return Multiple
	case 2:
		return Boolean
	default:
		return Single
	}
}
