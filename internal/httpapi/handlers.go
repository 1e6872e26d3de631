package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/wager/pkg/wager"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type httpHandler struct {
	service        WagerService
	logger         *zap.Logger
	requestTimeout time.Duration
}

type placeWagerRequest struct {
	Amount           decimal.Decimal `json:"amount"`
	SessionID        string          `json:"session_id"`
	Difficulty       string          `json:"difficulty"`
	DepositSignature string          `json:"deposit_signature"`
}

type settleRequest struct {
	Moves          int    `json:"moves"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
	Outcome        string `json:"outcome"`
}

type depositRequest struct {
	Signature string `json:"signature"`
}

type withdrawRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (handler *httpHandler) handlePlaceWager(ctx *gin.Context) {
	address, ok := handler.requireCaller(ctx)
	if !ok {
		return
	}
	var request placeWagerRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	amount, err := wager.LamportsFromDecimal(request.Amount)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	sessionID, err := wager.NewSessionID(request.SessionID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	difficulty, err := wager.ParseDifficulty(request.Difficulty)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	placeRequest := wager.PlaceWagerRequest{
		Address:    address,
		Amount:     amount,
		SessionID:  sessionID,
		Difficulty: difficulty,
	}
	if request.DepositSignature != "" {
		signature, err := wager.NewSignature(request.DepositSignature)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		placeRequest.DepositSignature = signature
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.PlaceWager(requestCtx, placeRequest)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"wager":   newWagerPayload(result.Wager),
		"session": newSessionPayload(result.Session),
		"balance": newAmountPayload(result.Balance),
	})
}

func (handler *httpHandler) handleSession(ctx *gin.Context) {
	address, ok := handler.requireCaller(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	session, err := handler.ownedSession(requestCtx, ctx.Param("id"), address)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"session": newSessionPayload(session)})
}

func (handler *httpHandler) handleSettle(ctx *gin.Context) {
	address, ok := handler.requireCaller(ctx)
	if !ok {
		return
	}
	var request settleRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	outcome, err := wager.ParseReportedOutcome(request.Outcome)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	session, err := handler.ownedSession(requestCtx, ctx.Param("id"), address)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	result, err := handler.service.SettleSession(requestCtx, wager.SettleRequest{
		SessionID:      session.SessionID,
		Moves:          request.Moves,
		ElapsedSeconds: request.ElapsedSeconds,
		Outcome:        outcome,
	})
	if errors.Is(err, wager.ErrAlreadySettled) && !result.Session.SessionID.IsZero() {
		response := serviceErrorResponse(err)
		response["session"] = newSessionPayload(result.Session)
		ctx.JSON(statusFor(err), response)
		return
	}
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	response := gin.H{"session": newSessionPayload(result.Session)}
	if result.Reward != nil {
		response["reward"] = newRewardPayload(*result.Reward)
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *httpHandler) handleRewards(ctx *gin.Context) {
	address, ok := handler.requireCaller(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	rewards, err := handler.service.ListUnclaimedRewards(requestCtx, address)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payloads := make([]rewardPayload, 0, len(rewards))
	for _, reward := range rewards {
		payloads = append(payloads, newRewardPayload(reward))
	}
	ctx.JSON(http.StatusOK, gin.H{"rewards": payloads})
}

func (handler *httpHandler) handleClaim(ctx *gin.Context) {
	address, ok := handler.requireCaller(ctx)
	if !ok {
		return
	}
	rewardID, err := wager.NewRewardID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.ClaimReward(requestCtx, rewardID, address)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"signature": result.Signature.String(),
		"reward":    newRewardPayload(result.Reward),
	})
}

func (handler *httpHandler) handleDeposit(ctx *gin.Context) {
	address, ok := handler.requireCaller(ctx)
	if !ok {
		return
	}
	var request depositRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	signature, err := wager.NewSignature(request.Signature)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	account, err := handler.service.Deposit(requestCtx, address, signature)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"account": newAccountPayload(account)})
}

func (handler *httpHandler) handleWithdraw(ctx *gin.Context) {
	address, ok := handler.requireCaller(ctx)
	if !ok {
		return
	}
	var request withdrawRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	amount, err := wager.LamportsFromDecimal(request.Amount)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.Withdraw(requestCtx, address, amount)
	if err != nil {
		response := serviceErrorResponse(err)
		if result.PayoutID != "" {
			response["payout_id"] = result.PayoutID
			response["signature"] = result.Signature.String()
		}
		handler.logFailure(ctx, err)
		ctx.JSON(statusFor(err), response)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"payout_id": result.PayoutID,
		"signature": result.Signature.String(),
		"amount":    newAmountPayload(result.Amount),
		"account":   newAccountPayload(result.Account),
	})
}

func (handler *httpHandler) handleAccount(ctx *gin.Context) {
	address, ok := handler.requireCaller(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	account, err := handler.service.Balance(requestCtx, address)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"account":  newAccountPayload(account),
		"treasury": handler.service.Treasury().String(),
	})
}

func (handler *httpHandler) handleEntries(ctx *gin.Context) {
	address, ok := handler.requireCaller(ctx)
	if !ok {
		return
	}
	var before time.Time
	if raw := ctx.Query("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse(wager.CodeValidation, "before must be an RFC 3339 timestamp"))
			return
		}
		before = parsed
	}
	limit := 0
	if raw := ctx.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			ctx.JSON(http.StatusBadRequest, errorResponse(wager.CodeValidation, "limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	entries, err := handler.service.ListEntries(requestCtx, address, before, limit)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payloads := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, newEntryPayload(entry))
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": payloads})
}

// ownedSession hides sessions of other accounts behind not found.
func (handler *httpHandler) ownedSession(ctx context.Context, rawSessionID string, address wager.Address) (wager.GameSession, error) {
	sessionID, err := wager.NewSessionID(rawSessionID)
	if err != nil {
		return wager.GameSession{}, err
	}
	session, err := handler.service.GetSession(ctx, sessionID)
	if err != nil {
		return wager.GameSession{}, err
	}
	if session.Address != address {
		return wager.GameSession{}, wager.ErrSessionNotFound
	}
	return session, nil
}

func (handler *httpHandler) requireCaller(ctx *gin.Context) (wager.Address, bool) {
	address, ok := callerAddress(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse(codeUnauthorized, "missing wallet address"))
		return wager.Address{}, false
	}
	return address, true
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.requestTimeout)
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	handler.logFailure(ctx, err)
	ctx.JSON(statusFor(err), serviceErrorResponse(err))
}

func (handler *httpHandler) logFailure(ctx *gin.Context, err error) {
	if wager.ErrorCode(err) != wager.CodeInternal || errors.Is(err, context.Canceled) {
		return
	}
	handler.logger.Error("request failed",
		zap.String("method", ctx.Request.Method),
		zap.String("path", ctx.FullPath()),
		zap.Error(err))
}

type amountPayload struct {
	Coins    string `json:"coins"`
	Lamports int64  `json:"lamports"`
}

type accountPayload struct {
	Address   string        `json:"address"`
	Balance   amountPayload `json:"balance"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type wagerPayload struct {
	WagerID          string        `json:"wager_id"`
	SessionID        string        `json:"session_id"`
	Amount           amountPayload `json:"amount"`
	Status           string        `json:"status"`
	DepositSignature string        `json:"deposit_signature,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

type sessionPayload struct {
	SessionID      string        `json:"session_id"`
	Address        string        `json:"address"`
	WagerAmount    amountPayload `json:"wager_amount"`
	Difficulty     string        `json:"difficulty"`
	Moves          int           `json:"moves"`
	ElapsedSeconds int           `json:"elapsed_seconds"`
	Outcome        string        `json:"outcome"`
	Claimed        bool          `json:"claimed"`
	ClaimSignature string        `json:"claim_signature,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	SettledAt      *time.Time    `json:"settled_at,omitempty"`
}

type rewardPayload struct {
	RewardID       string        `json:"reward_id"`
	SessionID      string        `json:"session_id"`
	Amount         amountPayload `json:"amount"`
	Description    string        `json:"description"`
	Claimed        bool          `json:"claimed"`
	ClaimSignature string        `json:"claim_signature,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	ClaimedAt      *time.Time    `json:"claimed_at,omitempty"`
}

type entryPayload struct {
	EntryID   string          `json:"entry_id"`
	Kind      string          `json:"kind"`
	Amount    amountPayload   `json:"amount"`
	Status    string          `json:"status"`
	WagerID   string          `json:"wager_id,omitempty"`
	Signature string          `json:"signature,omitempty"`
	Metadata  json.RawMessage `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
}

func newAmountPayload(amount wager.Lamports) amountPayload {
	return amountPayload{Coins: amount.String(), Lamports: amount.Int64()}
}

func newAccountPayload(account wager.Account) accountPayload {
	return accountPayload{
		Address:   account.Address.String(),
		Balance:   newAmountPayload(account.Balance),
		UpdatedAt: account.UpdatedAt,
	}
}

func newWagerPayload(record wager.Wager) wagerPayload {
	return wagerPayload{
		WagerID:          record.WagerID,
		SessionID:        record.SessionID.String(),
		Amount:           newAmountPayload(record.Amount),
		Status:           string(record.Status),
		DepositSignature: record.DepositSignature.String(),
		CreatedAt:        record.CreatedAt,
	}
}

func newSessionPayload(session wager.GameSession) sessionPayload {
	return sessionPayload{
		SessionID:      session.SessionID.String(),
		Address:        session.Address.String(),
		WagerAmount:    newAmountPayload(session.WagerAmount),
		Difficulty:     string(session.Difficulty),
		Moves:          session.Moves,
		ElapsedSeconds: session.ElapsedSeconds,
		Outcome:        string(session.Outcome),
		Claimed:        session.Claimed,
		ClaimSignature: session.ClaimSignature.String(),
		CreatedAt:      session.CreatedAt,
		SettledAt:      session.SettledAt,
	}
}

func newRewardPayload(reward wager.Reward) rewardPayload {
	return rewardPayload{
		RewardID:       reward.RewardID.String(),
		SessionID:      reward.SessionID.String(),
		Amount:         newAmountPayload(reward.Amount),
		Description:    reward.Description,
		Claimed:        reward.Claimed,
		ClaimSignature: reward.ClaimSignature.String(),
		CreatedAt:      reward.CreatedAt,
		ClaimedAt:      reward.ClaimedAt,
	}
}

func newEntryPayload(entry wager.LedgerEntry) entryPayload {
	metadata := json.RawMessage(entry.MetadataJSON)
	if !json.Valid(metadata) {
		metadata = json.RawMessage("{}")
	}
	return entryPayload{
		EntryID:   entry.EntryID,
		Kind:      string(entry.Kind),
		Amount:    newAmountPayload(entry.Amount),
		Status:    entry.Status,
		WagerID:   entry.WagerID,
		Signature: entry.Signature.String(),
		Metadata:  metadata,
		CreatedAt: entry.CreatedAt,
	}
}
