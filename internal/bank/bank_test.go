package bank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const singleCourseJSON = `{
  "class": {
    "course": {
      "courseName": "数据结构",
      "chapters": [
        {
          "id": "c1",
          "title": "第一章",
          "knowledges": [
            {
              "KnowledgeID": "k1",
              "Knowledge": "线性表",
              "questions": [
                {
                  "QuestionID": "q1",
                  "QuestionTitle": "顺序表的存储结构是",
                  "questionsType": 0,
                  "options": [
                    {"id": "o1", "isTrue": false, "oppentionContent": "链式", "oppentionOrder": 0},
                    {"id": "o2", "isTrue": true, "oppentionContent": "连续", "oppentionOrder": 1}
                  ]
                },
                {
                  "QuestionID": "q2",
                  "QuestionTitle": "下列说法正确的是",
                  "questionsType": 1,
                  "options": [
                    {"id": "o3", "isTrue": true, "oppentionContent": "A", "oppentionOrder": 0},
                    {"id": "o4", "isTrue": true, "oppentionContent": "B", "oppentionOrder": 1},
                    {"id": "o5", "isTrue": false, "oppentionContent": "C", "oppentionOrder": 2}
                  ]
                }
              ]
            },
            {"KnowledgeID": "k2", "Knowledge": "栈与队列", "questions": []}
          ]
        }
      ]
    }
  }
}`

func TestParseSingleCourseShape(t *testing.T) {
	b, err := Parse([]byte(singleCourseJSON))
	require.NoError(t, err)

	assert.Equal(t, "数据结构", b.CourseName)
	chapters, units, questions, options := b.Stats()
	assert.Equal(t, 1, chapters)
	assert.Equal(t, 2, units)
	assert.Equal(t, 2, questions)
	assert.Equal(t, 5, options)

	u := b.Unit("k1")
	require.NotNil(t, u)
	assert.Equal(t, "c1", u.ChapterID)
	assert.Equal(t, 0, u.Ordinal)
	assert.Equal(t, 1, b.Unit("k2").Ordinal)

	q := b.Question("q1")
	require.NotNil(t, q)
	assert.Equal(t, Single, q.Type)
	correct := q.CorrectOptions()
	require.Len(t, correct, 1)
	assert.Equal(t, "o2", correct[0].ID)

	assert.Equal(t, Multiple, b.Question("q2").Type)
	assert.Len(t, b.Question("q2").CorrectOptions(), 2)
}

func TestParseFlatShape(t *testing.T) {
	b, err := Parse([]byte(`{
	  "chapters": [
	    {"id": "c1", "title": "t", "knowledges": [
	      {"KnowledgeID": "k1", "Knowledge": "n", "questions": [
	        {"QuestionID": "q1", "QuestionTitle": "t1", "options": []}
	      ]}
	    ]}
	  ]
	}`))
	require.NoError(t, err)
	assert.NotNil(t, b.Question("q1"))
	assert.Nil(t, b.Question("missing"))
	assert.Equal(t, "k1", b.UnitByName("n").ID)
}

func TestParseRejectsDuplicateQuestionIDs(t *testing.T) {
	_, err := Parse([]byte(`{
	  "chapters": [
	    {"id": "c1", "knowledges": [
	      {"KnowledgeID": "k1", "questions": [
	        {"QuestionID": "q1", "QuestionTitle": "a"},
	        {"QuestionID": "q1", "QuestionTitle": "b"}
	      ]}
	    ]}
	  ]
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate question id")
}

func TestParseRejectsEmptyDocument(t *testing.T) {
	_, err := Parse([]byte(`{}`))
	require.Error(t, err)
}
