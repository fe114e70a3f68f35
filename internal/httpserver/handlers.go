package httpserver

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/plushify/plushify/internal/admin"
	"github.com/plushify/plushify/pkg/credit"
	"github.com/plushify/plushify/pkg/generation"
)

// Accounts covers account provisioning, satisfied by the durable store.
type Accounts interface {
	CreateAccount(ctx context.Context, accountID string) error
}

type handler struct {
	config      Config
	logger      *zap.Logger
	accounts    Accounts
	ledger      *credit.Service
	generations *generation.Manager
	admins      *admin.Service
}

type balanceResponse struct {
	AccountID string `json:"accountId"`
	Balance   int64  `json:"balance"`
}

type entryResponse struct {
	EntryID          string            `json:"entryId"`
	Delta            int64             `json:"delta"`
	ResultingBalance int64             `json:"resultingBalance"`
	Kind             string            `json:"kind"`
	Status           string            `json:"status"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedUnixUTC   int64             `json:"createdUnixUtc"`
}

type jobResponse struct {
	JobID          string `json:"jobId"`
	SourceImageURL string `json:"sourceImageUrl"`
	ResultImageURL string `json:"resultImageUrl,omitempty"`
	Style          string `json:"style"`
	Size           string `json:"size"`
	Status         string `json:"status"`
	IsFavorite     bool   `json:"isFavorite"`
	CreatedUnixUTC int64  `json:"createdUnixUtc"`
}

type adjustmentRequest struct {
	AccountID string `json:"accountId" binding:"required"`
	Amount    int64  `json:"amount" binding:"required"`
	Reason    string `json:"reason" binding:"required"`
}

// handleBootstrap provisions the caller's account and applies the one-time
// signup grant. Replays are no-ops.
func (handler *handler) handleBootstrap(ctx *gin.Context) {
	accountID := requestAccountID(ctx)
	if err := handler.accounts.CreateAccount(ctx.Request.Context(), accountID); err != nil {
		respondError(ctx, err)
		return
	}
	balance, err := handler.ledger.CreditKeyed(
		ctx.Request.Context(),
		accountID,
		handler.config.signupGrant(),
		credit.KindAdminGrant,
		signupGrantKeyPrefix+accountID,
		credit.Metadata{"action": "signup"},
	)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, balanceResponse{AccountID: accountID, Balance: balance})
}

func (handler *handler) handleBalance(ctx *gin.Context) {
	accountID := requestAccountID(ctx)
	balance, err := handler.ledger.Balance(ctx.Request.Context(), accountID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, balanceResponse{AccountID: accountID, Balance: balance})
}

func (handler *handler) handleTransactions(ctx *gin.Context) {
	accountID := requestAccountID(ctx)
	limit := parseBoundedInt(ctx.Query("limit"), defaultListLimit, maxListLimit)
	entries, err := handler.ledger.Entries(ctx.Request.Context(), accountID, limit)
	if err != nil {
		respondError(ctx, err)
		return
	}
	purchasesOnly := ctx.Query(transactionsKindFilter) == "1"
	responses := make([]entryResponse, 0, len(entries))
	for _, entry := range entries {
		if purchasesOnly && entry.Kind != credit.KindPurchase {
			continue
		}
		responses = append(responses, mapEntry(entry))
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": responses})
}

func (handler *handler) handleSubmitGeneration(ctx *gin.Context) {
	accountID := requestAccountID(ctx)

	style, err := generation.ParseStyle(ctx.PostForm("style"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	size, err := generation.ParseSize(ctx.PostForm("size"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	imageData, filename, err := handler.readUpload(ctx)
	if err != nil {
		respondError(ctx, err)
		return
	}

	jobID, err := handler.generations.Submit(ctx.Request.Context(), accountID, imageData, filename, style, size)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusAccepted, gin.H{"jobId": jobID, "status": string(generation.StatusProcessing)})
}

func (handler *handler) handleListGenerations(ctx *gin.Context) {
	accountID := requestAccountID(ctx)
	limit := parseBoundedInt(ctx.Query("limit"), defaultListLimit, maxListLimit)
	offset := parseBoundedInt(ctx.Query("offset"), 0, 1<<30)
	jobs, err := handler.generations.List(ctx.Request.Context(), accountID, limit, offset)
	if err != nil {
		respondError(ctx, err)
		return
	}
	responses := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, mapJob(job))
	}
	ctx.JSON(http.StatusOK, gin.H{"generations": responses})
}

func (handler *handler) handleGetGeneration(ctx *gin.Context) {
	job, err := handler.generations.Get(ctx.Request.Context(), ctx.Param("id"), requestAccountID(ctx))
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, mapJob(job))
}

func (handler *handler) handleToggleFavorite(ctx *gin.Context) {
	favorite, err := handler.generations.ToggleFavorite(ctx.Request.Context(), ctx.Param("id"), requestAccountID(ctx))
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"isFavorite": favorite})
}

func (handler *handler) handleDeleteGeneration(ctx *gin.Context) {
	if err := handler.generations.Delete(ctx.Request.Context(), ctx.Param("id"), requestAccountID(ctx)); err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (handler *handler) handleAdminGrant(ctx *gin.Context) {
	handler.handleAdjustment(ctx, handler.admins.GrantCredits)
}

func (handler *handler) handleAdminRevoke(ctx *gin.Context) {
	handler.handleAdjustment(ctx, handler.admins.RevokeCredits)
}

func (handler *handler) handleAdjustment(ctx *gin.Context, apply func(ctx context.Context, actorID string, accountID string, amount int64, reason string) (int64, error)) {
	var request adjustmentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "expected accountId, amount and reason"})
		return
	}
	balance, err := apply(ctx.Request.Context(), requestAccountID(ctx), request.AccountID, request.Amount, request.Reason)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, balanceResponse{AccountID: request.AccountID, Balance: balance})
}

func (handler *handler) handleAdminTransactions(ctx *gin.Context) {
	limit := parseBoundedInt(ctx.Query("limit"), defaultListLimit, maxListLimit)
	entries, err := handler.admins.Transactions(ctx.Request.Context(), requestAccountID(ctx), ctx.Param("id"), limit)
	if err != nil {
		respondError(ctx, err)
		return
	}
	responses := make([]entryResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, mapEntry(entry))
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": responses})
}

// readUpload extracts and validates the multipart image field. Only PNG and
// JPEG payloads within the size limit are accepted.
func (handler *handler) readUpload(ctx *gin.Context) ([]byte, string, error) {
	fileHeader, err := ctx.FormFile("image")
	if err != nil {
		return nil, "", generation.ErrInvalidImage
	}
	if fileHeader.Size > handler.config.maxUploadBytes() {
		return nil, "", generation.ErrInvalidImage
	}
	file, err := fileHeader.Open()
	if err != nil {
		return nil, "", generation.ErrInvalidImage
	}
	defer func() { _ = file.Close() }()

	imageData, err := io.ReadAll(io.LimitReader(file, handler.config.maxUploadBytes()+1))
	if err != nil || int64(len(imageData)) > handler.config.maxUploadBytes() {
		return nil, "", generation.ErrInvalidImage
	}
	contentType := http.DetectContentType(imageData)
	if contentType != "image/png" && contentType != "image/jpeg" {
		return nil, "", generation.ErrInvalidImage
	}
	return imageData, fileHeader.Filename, nil
}

func mapEntry(entry credit.Entry) entryResponse {
	return entryResponse{
		EntryID:          entry.EntryID,
		Delta:            entry.Delta,
		ResultingBalance: entry.ResultingBalance,
		Kind:             entry.Kind.String(),
		Status:           string(entry.Status),
		Metadata:         entry.Metadata,
		CreatedUnixUTC:   entry.CreatedUnixUTC,
	}
}

func mapJob(job generation.Job) jobResponse {
	return jobResponse{
		JobID:          job.JobID,
		SourceImageURL: job.SourceImageRef,
		ResultImageURL: job.ResultImageRef,
		Style:          string(job.Style),
		Size:           string(job.Size),
		Status:         string(job.Status),
		IsFavorite:     job.IsFavorite,
		CreatedUnixUTC: job.CreatedUnixUTC,
	}
}

func parseBoundedInt(raw string, fallback int, ceiling int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 || value > ceiling {
		return fallback
	}
	return value
}
