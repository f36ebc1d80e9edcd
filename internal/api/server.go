package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"talent-radar/internal/apperr"
	"talent-radar/internal/batch"
	"talent-radar/internal/document"
	"talent-radar/internal/logger"
	"talent-radar/internal/model"
	"talent-radar/internal/recipient"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Store API 直接读写的存储接口。
type Store interface {
	CreatePosting(ctx context.Context, posting *model.Posting) error
	GetPosting(ctx context.Context, id uint) (*model.Posting, error)
	CreateDocument(ctx context.Context, doc *model.Document) error
	ListRequirements(ctx context.Context, postingID uint) ([]model.Requirement, error)
	ListCandidates(ctx context.Context, postingID uint) ([]model.Candidate, error)
	GetCandidate(ctx context.Context, id uint) (*model.Candidate, error)
	ListMatchStatements(ctx context.Context, candidateID uint) ([]model.MatchStatement, error)
}

// Batches 批处理编排。
type Batches interface {
	Start(ctx context.Context, postingID uint, recipientID *uint) (batch.Ticket, error)
	Progress(ctx context.Context, postingID uint) (batch.Progress, error)
	DeleteAttachments(ctx context.Context, postingID uint) (int64, error)
}

// Requirements 从职位描述抽取要求。
type Requirements interface {
	Extract(ctx context.Context, postingID, documentID uint) ([]model.Requirement, error)
}

// Extractions 单个候选人的异步解析。
type Extractions interface {
	Request(ctx context.Context, candidateIDs []uint, recipientID *uint) ([]uint, error)
}

// Matcher 异步匹配。
type Matcher interface {
	Request(ctx context.Context, candidateIDs []uint, recipientID *uint) ([]uint, error)
	RequestPosting(ctx context.Context, postingID uint, recipientID *uint) ([]uint, error)
}

// Exporter 生成排名表。
type Exporter interface {
	Write(ctx context.Context, postingID uint, w io.Writer) error
}

// Recipients 登记通知接收人。
type Recipients interface {
	Create(ctx context.Context, req recipient.Request) (model.Recipient, error)
}

// Fetcher 按 URL 下载文档。
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (document.Payload, error)
}

// Deps 路由依赖；为 nil 的服务对应路由返回 503。
type Deps struct {
	Store        Store
	Batches      Batches
	Requirements Requirements
	Extractions  Extractions
	Matcher      Matcher
	Exporter     Exporter
	Recipients   Recipients
	Fetcher      Fetcher
	// MaxUploadBytes 单个上传文件上限，默认 10MB。
	MaxUploadBytes int64
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

type server struct {
	deps   Deps
	logger *zap.Logger
}

// NewHandler 构造 gin 路由。
func NewHandler(deps Deps, log *zap.Logger) http.Handler {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 10 << 20
	}
	s := &server{deps: deps, logger: logger.OrNop(log).Named("api")}

	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog)
	r.MaxMultipartMemory = deps.MaxUploadBytes

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.POST("/postings", s.createPosting)
		api.GET("/postings/:id", s.getPosting)
		api.POST("/postings/:id/documents", s.uploadDocument)
		api.POST("/postings/:id/documents/url", s.fetchDocument)
		api.DELETE("/postings/:id/documents", s.deleteAttachments)
		api.POST("/postings/:id/runs", s.startRun)
		api.GET("/postings/:id/progress", s.progress)
		api.POST("/postings/:id/requirements", s.extractRequirements)
		api.GET("/postings/:id/requirements", s.listRequirements)
		api.GET("/postings/:id/candidates", s.listCandidates)
		api.POST("/postings/:id/match", s.matchPosting)
		api.GET("/postings/:id/export.xlsx", s.export)

		api.POST("/candidates/extract", s.extractCandidates)
		api.POST("/candidates/match", s.matchCandidates)
		api.GET("/candidates/:id/statements", s.statements)

		api.POST("/recipients", s.createRecipient)
	}
	return r
}

func (s *server) accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.Debug("request",
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("latency", time.Since(start)))
}

type postingRequest struct {
	Name          string              `json:"name"`
	Description   string              `json:"description"`
	MatchStrategy model.MatchStrategy `json:"match_strategy"`
	AutoProcess   bool                `json:"auto_process"`
	AutoMatch     bool                `json:"auto_match"`
	RecipientID   *uint               `json:"recipient_id"`
}

func (s *server) createPosting(c *gin.Context) {
	var req postingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload: "+err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		badRequest(c, "name is required")
		return
	}
	switch req.MatchStrategy {
	case "":
		req.MatchStrategy = model.MatchSingle
	case model.MatchSingle, model.MatchMulti:
	default:
		badRequest(c, fmt.Sprintf("unknown match_strategy %q", req.MatchStrategy))
		return
	}

	posting := &model.Posting{
		Name:          req.Name,
		Description:   req.Description,
		MatchStrategy: req.MatchStrategy,
		AutoProcess:   req.AutoProcess,
		AutoMatch:     req.AutoMatch,
		RecipientID:   req.RecipientID,
	}
	if err := s.deps.Store.CreatePosting(c.Request.Context(), posting); err != nil {
		s.fail(c, apperr.Wrap(apperr.KindPersistence, "api.create_posting", err))
		return
	}
	c.JSON(http.StatusCreated, posting)
}

func (s *server) getPosting(c *gin.Context) {
	posting, ok := s.posting(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, posting)
}

func (s *server) uploadDocument(c *gin.Context) {
	posting, ok := s.posting(c)
	if !ok {
		return
	}
	kind, ok := documentKind(c, c.PostForm("kind"))
	if !ok {
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "multipart field file is required")
		return
	}
	if header.Size > s.deps.MaxUploadBytes {
		badRequest(c, fmt.Sprintf("file exceeds %d bytes", s.deps.MaxUploadBytes))
		return
	}
	f, err := header.Open()
	if err != nil {
		badRequest(c, "read upload: "+err.Error())
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		badRequest(c, "read upload: "+err.Error())
		return
	}
	if len(data) == 0 {
		badRequest(c, "file is empty")
		return
	}

	s.saveDocument(c, posting.ID, kind, document.Payload{
		Name:     header.Filename,
		MIMEType: document.DetectMIME(header.Header.Get("Content-Type"), data),
		Data:     data,
	}, "")
}

type urlRequest struct {
	URL  string `json:"url"`
	Kind string `json:"kind"`
}

func (s *server) fetchDocument(c *gin.Context) {
	if s.deps.Fetcher == nil {
		unavailable(c, "document fetcher")
		return
	}
	posting, ok := s.posting(c)
	if !ok {
		return
	}
	var req urlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload: "+err.Error())
		return
	}
	kind, ok := documentKind(c, req.Kind)
	if !ok {
		return
	}
	payload, err := s.deps.Fetcher.Fetch(c.Request.Context(), req.URL)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.saveDocument(c, posting.ID, kind, payload, req.URL)
}

func (s *server) saveDocument(c *gin.Context, postingID uint, kind model.DocumentKind, p document.Payload, sourceURL string) {
	doc := &model.Document{
		PostingID: &postingID,
		Kind:      kind,
		Name:      p.Name,
		MIMEType:  p.MIMEType,
		SourceURL: sourceURL,
		Data:      p.Data,
	}
	if err := s.deps.Store.CreateDocument(c.Request.Context(), doc); err != nil {
		s.fail(c, apperr.Wrap(apperr.KindPersistence, "api.save_document", err))
		return
	}
	c.JSON(http.StatusCreated, doc)
}

func (s *server) deleteAttachments(c *gin.Context) {
	if s.deps.Batches == nil {
		unavailable(c, "batch processing")
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	deleted, err := s.deps.Batches.DeleteAttachments(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

type recipientBody struct {
	RecipientID *uint `json:"recipient_id"`
}

func (s *server) startRun(c *gin.Context) {
	if s.deps.Batches == nil {
		unavailable(c, "batch processing")
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body recipientBody
	if !optionalJSON(c, &body) {
		return
	}
	ticket, err := s.deps.Batches.Start(c.Request.Context(), id, body.RecipientID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if ticket.Total == 0 {
		c.JSON(http.StatusOK, gin.H{"run_id": "", "total": 0, "message": "no new documents to process"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": ticket.RunID, "total": ticket.Total})
}

func (s *server) progress(c *gin.Context) {
	if s.deps.Batches == nil {
		unavailable(c, "batch processing")
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	p, err := s.deps.Batches.Progress(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *server) extractRequirements(c *gin.Context) {
	if s.deps.Requirements == nil {
		unavailable(c, "requirement extraction")
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	docID, err := strconv.ParseUint(c.PostForm("document_id"), 10, 64)
	if err != nil || docID == 0 {
		badRequest(c, "document_id is required")
		return
	}
	reqs, err := s.deps.Requirements.Extract(c.Request.Context(), id, uint(docID))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reqs)
}

func (s *server) listRequirements(c *gin.Context) {
	posting, ok := s.posting(c)
	if !ok {
		return
	}
	reqs, err := s.deps.Store.ListRequirements(c.Request.Context(), posting.ID)
	if err != nil {
		s.fail(c, apperr.Wrap(apperr.KindPersistence, "api.list_requirements", err))
		return
	}
	c.JSON(http.StatusOK, reqs)
}

func (s *server) listCandidates(c *gin.Context) {
	posting, ok := s.posting(c)
	if !ok {
		return
	}
	cands, err := s.deps.Store.ListCandidates(c.Request.Context(), posting.ID)
	if err != nil {
		s.fail(c, apperr.Wrap(apperr.KindPersistence, "api.list_candidates", err))
		return
	}
	c.JSON(http.StatusOK, cands)
}

func (s *server) matchPosting(c *gin.Context) {
	if s.deps.Matcher == nil {
		unavailable(c, "matching")
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body recipientBody
	if !optionalJSON(c, &body) {
		return
	}
	queued, err := s.deps.Matcher.RequestPosting(c.Request.Context(), id, body.RecipientID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": queued})
}

func (s *server) export(c *gin.Context) {
	if s.deps.Exporter == nil {
		unavailable(c, "export")
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := s.deps.Exporter.Write(c.Request.Context(), id, &buf); err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="posting-%d.xlsx"`, id))
	c.Data(http.StatusOK, xlsxMIME, buf.Bytes())
}

type candidatesRequest struct {
	CandidateIDs []uint `json:"candidate_ids"`
	RecipientID  *uint  `json:"recipient_id"`
}

func (s *server) extractCandidates(c *gin.Context) {
	if s.deps.Extractions == nil {
		unavailable(c, "extraction")
		return
	}
	s.queueCandidates(c, s.deps.Extractions.Request)
}

func (s *server) matchCandidates(c *gin.Context) {
	if s.deps.Matcher == nil {
		unavailable(c, "matching")
		return
	}
	s.queueCandidates(c, s.deps.Matcher.Request)
}

func (s *server) queueCandidates(c *gin.Context, request func(context.Context, []uint, *uint) ([]uint, error)) {
	var req candidatesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload: "+err.Error())
		return
	}
	if len(req.CandidateIDs) == 0 {
		badRequest(c, "candidate_ids is required")
		return
	}
	queued, err := request(c.Request.Context(), req.CandidateIDs, req.RecipientID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": queued})
}

func (s *server) statements(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if _, err := s.deps.Store.GetCandidate(c.Request.Context(), id); err != nil {
		s.fail(c, lookupError("api.statements", err))
		return
	}
	stmts, err := s.deps.Store.ListMatchStatements(c.Request.Context(), id)
	if err != nil {
		s.fail(c, apperr.Wrap(apperr.KindPersistence, "api.statements", err))
		return
	}
	c.JSON(http.StatusOK, stmts)
}

func (s *server) createRecipient(c *gin.Context) {
	if s.deps.Recipients == nil {
		unavailable(c, "recipients")
		return
	}
	var req recipient.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload: "+err.Error())
		return
	}
	r, err := s.deps.Recipients.Create(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (s *server) posting(c *gin.Context) (*model.Posting, bool) {
	id, ok := pathID(c)
	if !ok {
		return nil, false
	}
	posting, err := s.deps.Store.GetPosting(c.Request.Context(), id)
	if err != nil {
		s.fail(c, lookupError("api.get_posting", err))
		return nil, false
	}
	return posting, true
}
