package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type item struct {
	QuestionID string `json:"question_id" binding:"required,question_id"`
	Score      int    `json:"score" binding:"min=0"`
}

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	Setup()
	m.Run()
}

func bindBody(body string, dst interface{}) map[string]string {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	return Bind(c, dst)
}

func TestBind_TranslatesFieldErrors(t *testing.T) {
	var dst item
	fields := bindBody(`{"question_id":"has space","score":-1}`, &dst)
	assert.Equal(t, "question_id must be a question identifier", fields["question_id"])
	assert.Contains(t, fields["score"], "score must be 0 or greater")

	assert.Nil(t, bindBody(`{"question_id":"q-1","score":3}`, &dst))
	assert.Equal(t, "q-1", dst.QuestionID)
}

func TestBind_SyntaxError(t *testing.T) {
	var dst item
	fields := bindBody(`{"question_id":`, &dst)
	assert.Contains(t, fields, "detail")
}

func TestBindOptional_EmptyBody(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	var dst item
	assert.Nil(t, BindOptional(c, &dst))
}

func TestValidQuestionID(t *testing.T) {
	assert.True(t, ValidQuestionID("q1"))
	assert.True(t, ValidQuestionID("section-2.q_10"))
	assert.False(t, ValidQuestionID(""))
	assert.False(t, ValidQuestionID("a b"))
	assert.False(t, ValidQuestionID(strings.Repeat("x", 129)))
	assert.False(t, ValidQuestionID("tab\there"))
}
