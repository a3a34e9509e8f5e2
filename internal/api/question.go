package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/victornm/quizbattle/internal/errors"
)

type Question struct {
	QuestionID string   `json:"questionId"`
	Text       string   `json:"text"`
	Options    []string `json:"options"`
	Category   string   `json:"category,omitempty"`
	Difficulty string   `json:"difficulty,omitempty"`
}

// RandomQuestions returns a random sample of the question bank, without the answers.
// An invalid or missing limit falls back to the default one.
func (a *API) RandomQuestions(c *gin.Context) {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		limit = defaultRandomLimit
	}
	limit = min(limit, a.maxRandom)

	qs, err := a.qs.SampleRandom(c.Request.Context(), limit)
	if err != nil {
		e := errors.New(errors.CodeUnavailable,
			errors.WithMessagef("cannot sample questions"),
			errors.WithCause(err),
		)
		c.JSON(e.HTTPStatusCode(), e)
		return
	}

	resp := make([]Question, 0, len(qs))
	for _, q := range qs {
		resp = append(resp, Question{
			QuestionID: q.QuestionID,
			Text:       q.Text,
			Options:    q.Options,
			Category:   q.Category,
			Difficulty: q.Difficulty,
		})
	}

	c.JSON(http.StatusOK, resp)
}
