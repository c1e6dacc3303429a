package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"quizzles/internal/domain"
)

type answerRequest struct {
	QuestionID int64 `json:"questionId" binding:"required,gt=0"`
	OptionID   int64 `json:"optionId" binding:"required,gt=0"`
}

type answersRequest struct {
	Responses []answerRequest `json:"responses" binding:"dive"`
}

func (r answersRequest) answers() []domain.Answer {
	out := make([]domain.Answer, 0, len(r.Responses))
	for _, a := range r.Responses {
		out = append(out, domain.Answer{QuestionID: a.QuestionID, OptionID: a.OptionID})
	}
	return out
}

// bindAnswers accepts an empty body as an empty answer set.
func bindAnswers(c *gin.Context, req *answersRequest) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return bind(c, req)
}

func (s *Server) startAttempt(c *gin.Context) {
	quizID, ok := pathID(c)
	if !ok {
		return
	}
	attempt, err := s.attempts.Start(c.Request.Context(), callerFrom(c), quizID)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, attempt)
}

func (s *Server) quizAttempt(c *gin.Context) {
	quizID, ok := pathID(c)
	if !ok {
		return
	}
	view, err := s.attempts.ViewForQuiz(c.Request.Context(), callerFrom(c), quizID)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, view)
}

func (s *Server) saveProgress(c *gin.Context) {
	quizID, ok := pathID(c)
	if !ok {
		return
	}
	var req answersRequest
	if !bindAnswers(c, &req) {
		return
	}
	view, err := s.attempts.SaveProgressForQuiz(c.Request.Context(), callerFrom(c), quizID, req.answers())
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, view)
}

func (s *Server) submitAttempt(c *gin.Context) {
	quizID, ok := pathID(c)
	if !ok {
		return
	}
	var req answersRequest
	if !bindAnswers(c, &req) {
		return
	}
	view, err := s.attempts.SubmitForQuiz(c.Request.Context(), callerFrom(c), quizID, req.answers())
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, view)
}

func (s *Server) attemptByID(c *gin.Context) {
	attemptID, ok := pathID(c)
	if !ok {
		return
	}
	view, err := s.attempts.View(c.Request.Context(), callerFrom(c), attemptID)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, view)
}

func (s *Server) auditAttempt(c *gin.Context) {
	attemptID, ok := pathID(c)
	if !ok {
		return
	}
	audit, err := s.attempts.Audit(c.Request.Context(), callerFrom(c), attemptID)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, audit)
}
