package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/Dengwilliam/cashiq/internal/auth"
	"github.com/Dengwilliam/cashiq/internal/domain"
	"github.com/Dengwilliam/cashiq/internal/errors"
	"github.com/Dengwilliam/cashiq/internal/quiz"
)

type SessionResponse struct {
	SessionID string                `json:"sessionId"`
	Mode      string                `json:"mode"`
	WeekID    string                `json:"weekId"`
	Questions []domain.QuizQuestion `json:"questions"`
}

func sessionResponse(s *quiz.Session) SessionResponse {
	return SessionResponse{
		SessionID: s.SessionID,
		Mode:      string(s.Mode),
		WeekID:    s.WeekID,
		Questions: s.Questions(),
	}
}

func (a *API) startWeekly(c *gin.Context) {
	id, _ := auth.FromContext(c)

	// First sign-in creates the account row.
	if _, err := a.us.GetOrCreate(c.Request.Context(), id.UserID, id.DisplayName, id.Email); err != nil {
		fail(c, err)
		return
	}

	sess, err := a.qs.StartWeekly(c.Request.Context(), id.UserID, time.Now())
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, sessionResponse(sess))
}

func (a *API) startDaily(c *gin.Context) {
	id, _ := auth.FromContext(c)

	if _, err := a.us.GetOrCreate(c.Request.Context(), id.UserID, id.DisplayName, id.Email); err != nil {
		fail(c, err)
		return
	}

	sess, err := a.qs.StartDaily(c.Request.Context(), id.UserID, time.Now())
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, sessionResponse(sess))
}

type AnswerRequest struct {
	QuestionID int `json:"questionId" binding:"required"`
	OptionID   int `json:"optionId" binding:"required"`
}

func (a *API) answer(c *gin.Context) {
	id, _ := auth.FromContext(c)

	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	res, err := a.qs.Answer(c.Request.Context(), id.UserID, c.Param("sessionID"), req.QuestionID, req.OptionID)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (a *API) reportHidden(c *gin.Context) {
	id, _ := auth.FromContext(c)

	state, err := a.qs.ReportHidden(c.Request.Context(), id.UserID, c.Param("sessionID"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"visibility": state})
}

func (a *API) finishWeekly(c *gin.Context) {
	id, _ := auth.FromContext(c)

	res, err := a.qs.FinishWeekly(c.Request.Context(), id.UserID, c.Param("sessionID"), time.Now())
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (a *API) finishDaily(c *gin.Context) {
	id, _ := auth.FromContext(c)

	res, err := a.qs.FinishDaily(c.Request.Context(), id.UserID, c.Param("sessionID"), time.Now())
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

type ExplainRequest struct {
	QuestionID int `json:"questionId" binding:"required"`
}

func (a *API) explain(c *gin.Context) {
	id, _ := auth.FromContext(c)

	var req ExplainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	explanation, err := a.qs.Explain(c.Request.Context(), id.UserID, c.Param("sessionID"), req.QuestionID)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"explanation": explanation})
}

func (a *API) share(c *gin.Context) {
	id, _ := auth.FromContext(c)

	url, err := a.qs.Share(c.Request.Context(), id.UserID, id.DisplayName)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"imageUrl": url})
}

func (a *API) getLeaderboard(c *gin.Context) {
	lb, err := a.ls.Current(c.Request.Context(), time.Now())
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, leaderboardData(*lb))
}

type ProfileResponse struct {
	UserID           string   `json:"userId"`
	DisplayName      string   `json:"displayName"`
	Email            string   `json:"email"`
	Coins            int64    `json:"coins"`
	Badges           []string `json:"badges"`
	ConsecutiveWeeks int      `json:"consecutiveWeeks"`
	Suspended        bool     `json:"suspended"`
}

func (a *API) me(c *gin.Context) {
	id, _ := auth.FromContext(c)

	u, err := a.us.GetOrCreate(c.Request.Context(), id.UserID, id.DisplayName, id.Email)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, ProfileResponse{
		UserID:           u.UserID,
		DisplayName:      u.DisplayName,
		Email:            u.Email,
		Coins:            u.Coins,
		Badges:           u.Badges,
		ConsecutiveWeeks: u.ConsecutiveWeeks,
		Suspended:        u.Suspended,
	})
}

type HistoryEntry struct {
	WeekID       string    `json:"weekId"`
	Score        int       `json:"score"`
	Disqualified bool      `json:"disqualified"`
	CreateTime   time.Time `json:"createTime"`
}

func (a *API) history(c *gin.Context) {
	id, _ := auth.FromContext(c)

	records, err := a.qs.History(c.Request.Context(), id.UserID)
	if err != nil {
		fail(c, err)
		return
	}

	entries := make([]HistoryEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, HistoryEntry{
			WeekID:       r.WeekID,
			Score:        r.Score,
			Disqualified: r.Disqualified,
			CreateTime:   r.CreateTime,
		})
	}

	c.JSON(http.StatusOK, gin.H{"history": entries})
}

func (a *API) submitPayment(c *gin.Context) {
	id, _ := auth.FromContext(c)

	amount, err := decimal.NewFromString(c.PostForm("amount"))
	if err != nil {
		fail(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("malformed amount"),
			errors.WithCause(err)))
		return
	}

	fh, err := c.FormFile("screenshot")
	if err != nil {
		fail(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("missing screenshot"),
			errors.WithCause(err)))
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, errors.Internal(err))
		return
	}
	defer f.Close()

	p, err := a.ps.Submit(c.Request.Context(), id.UserID, c.PostForm("externalTxId"), amount, f, fh.Header.Get("Content-Type"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, paymentData(p))
}

type PaymentResponse struct {
	PaymentID     string          `json:"paymentId"`
	UserID        string          `json:"userId"`
	ExternalTxID  string          `json:"externalTxId"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	ScreenshotURL string          `json:"screenshotUrl"`
	CreateTime    time.Time       `json:"createTime"`
}

func paymentData(p domain.PaymentTransaction) PaymentResponse {
	return PaymentResponse{
		PaymentID:     p.PaymentID,
		UserID:        p.UserID,
		ExternalTxID:  p.ExternalTxID,
		Amount:        p.Amount,
		Status:        p.Status,
		ScreenshotURL: p.ScreenshotURL,
		CreateTime:    p.CreateTime,
	}
}

func (a *API) listPendingPayments(c *gin.Context) {
	payments, err := a.ps.ListPending(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}

	out := make([]PaymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, paymentData(p))
	}
	c.JSON(http.StatusOK, gin.H{"payments": out})
}

type ReviewRequest struct {
	Approve *bool `json:"approve" binding:"required"`
}

func (a *API) reviewPayment(c *gin.Context) {
	id, _ := auth.FromContext(c)

	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	p, err := a.ps.Review(c.Request.Context(), c.Param("paymentID"), id.UserID, *req.Approve)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, paymentData(p))
}

type SuspendRequest struct {
	Suspended *bool `json:"suspended" binding:"required"`
}

func (a *API) suspendUser(c *gin.Context) {
	var req SuspendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	if err := a.us.SetSuspended(c.Request.Context(), c.Param("userID"), *req.Suspended); err != nil {
		fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type AdjustPoolRequest struct {
	Delta int64 `json:"delta" binding:"required"`
}

func (a *API) adjustPool(c *gin.Context) {
	var req AdjustPoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	if err := a.ws.AdjustPool(c.Request.Context(), c.Param("weekID"), req.Delta); err != nil {
		fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func fail(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.JSON(e.HTTPStatusCode(), e)
}
