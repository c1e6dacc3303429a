package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"quizzles/internal/app"
)

type createQuizRequest struct {
	Title      string `json:"title" binding:"required,max=200"`
	Duration   int    `json:"duration" binding:"required,gt=0"`
	TotalScore int    `json:"totalScore" binding:"required,gt=0"`
}

type optionRequest struct {
	Text      string `json:"text" binding:"required"`
	IsCorrect bool   `json:"isCorrect"`
}

type addQuestionRequest struct {
	Text    string          `json:"text" binding:"required"`
	Marks   int             `json:"marks" binding:"required,gt=0"`
	Options []optionRequest `json:"options" binding:"required,min=2,dive"`
}

func (s *Server) listQuizzes(c *gin.Context) {
	quizzes, err := s.catalog.ListQuizzes(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, quizzes)
}

func (s *Server) myQuizzes(c *gin.Context) {
	summaries, err := s.catalog.ListQuizzesForUser(c.Request.Context(), callerFrom(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, summaries)
}

func (s *Server) createQuiz(c *gin.Context) {
	var req createQuizRequest
	if !bind(c, &req) {
		return
	}
	quiz, err := s.catalog.CreateQuiz(c.Request.Context(), callerFrom(c), app.QuizInput{
		Title:      req.Title,
		Duration:   req.Duration,
		TotalScore: req.TotalScore,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusCreated, quiz)
}

func (s *Server) quizDetail(c *gin.Context) {
	quizID, ok := pathID(c)
	if !ok {
		return
	}
	detail, err := s.catalog.QuizDetail(c.Request.Context(), callerFrom(c), quizID)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, detail)
}

func (s *Server) participants(c *gin.Context) {
	quizID, ok := pathID(c)
	if !ok {
		return
	}
	attempts, err := s.catalog.ListParticipants(c.Request.Context(), callerFrom(c), quizID)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, attempts)
}

func (s *Server) addQuestion(c *gin.Context) {
	quizID, ok := pathID(c)
	if !ok {
		return
	}
	var req addQuestionRequest
	if !bind(c, &req) {
		return
	}
	in := app.QuestionInput{Text: req.Text, Marks: req.Marks}
	for _, o := range req.Options {
		in.Options = append(in.Options, app.OptionInput{Text: o.Text, IsCorrect: o.IsCorrect})
	}
	question, err := s.catalog.AddQuestion(c.Request.Context(), callerFrom(c), quizID, in)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusCreated, question)
}
