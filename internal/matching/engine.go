package matching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"talent-radar/internal/apperr"
	"talent-radar/internal/document"
	"talent-radar/internal/llm"
	"talent-radar/internal/logger"
	"talent-radar/internal/model"
	"talent-radar/internal/notifier"
	"talent-radar/internal/prompts"
	"talent-radar/internal/queue"
	"talent-radar/internal/storage"

	"go.uber.org/zap"
)

// UnitMatch 单个候选人匹配的工作单元名。
const UnitMatch = "candidate.match"

const instruction = "You are a senior recruiter that evaluates candidates against weighted job requirements. Respond with JSON only."

// Submitter 工作队列提交接口。
type Submitter interface {
	Submit(unit queue.Unit) (string, error)
}

// Args 单个候选人匹配参数。
type Args struct {
	CandidateID uint
	RecipientID *uint
}

// Result 一次匹配的结果。Partial 表示评估已保存但总结失败。
type Result struct {
	CandidateID uint
	Statements  int
	Percentage  float64
	Bucket      string
	Partial     bool
	Message     string
}

// Engine 按职位配置选择单轮或多轮策略，评估候选人并保存结果。
type Engine struct {
	store    *storage.Store
	client   llm.Client
	prompts  prompts.Set
	queue    Submitter
	notifier notifier.Notifier
	logger   *zap.Logger
}

// NewEngine 创建匹配引擎。
func NewEngine(store *storage.Store, client llm.Client, set prompts.Set, q Submitter, n notifier.Notifier, log *zap.Logger) *Engine {
	return &Engine{store: store, client: client, prompts: set, queue: q, notifier: n, logger: logger.OrNop(log)}
}

// Validate 运行前置检查。
func (e *Engine) Validate() error {
	return e.client.Validate()
}

type evaluation struct {
	statements []statementItem
	summary    summary
	summaryErr error
}

// Match 同步评估一个候选人。服务调用在事务之外完成，结果在单个事务内替换。
func (e *Engine) Match(ctx context.Context, candidateID uint) (Result, error) {
	const op = "matching.match"
	if err := e.Validate(); err != nil {
		return Result{}, err
	}

	cand, err := e.store.GetCandidate(ctx, candidateID)
	if err != nil {
		return Result{}, lookupError(op, err)
	}
	posting, err := e.store.GetPosting(ctx, cand.PostingID)
	if err != nil {
		return Result{}, lookupError(op, err)
	}
	reqs, err := e.store.ListRequirements(ctx, posting.ID)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindPersistence, op, err)
	}
	if len(reqs) == 0 {
		return Result{}, apperr.New(apperr.KindInvalidInput, op, "posting has no requirements")
	}
	if cand.DocumentID == nil {
		return Result{}, apperr.New(apperr.KindInvalidInput, op, "candidate has no CV document")
	}
	doc, err := e.store.GetDocument(ctx, *cand.DocumentID)
	if err != nil {
		return Result{}, lookupError(op, err)
	}
	payload, err := document.Prepare(document.Payload{Name: doc.Name, MIMEType: doc.MIMEType, Data: doc.Data})
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindInvalidInput, op, err)
	}
	llmDoc := &llm.Document{Name: payload.Name, MIMEType: payload.MIMEType, Data: payload.Data}

	log := e.logger.With(zap.Uint("candidate_id", cand.ID), zap.String("strategy", string(posting.MatchStrategy)))

	var eval evaluation
	switch posting.MatchStrategy {
	case model.MatchMulti:
		eval, err = e.runMulti(ctx, reqs, llmDoc)
	default:
		eval, err = e.runSingle(ctx, reqs, llmDoc)
	}
	if err != nil {
		log.Error("match evaluation failed", zap.Error(err))
		return Result{}, err
	}

	stmts := buildStatements(cand.ID, eval.statements, reqs)
	if len(stmts) == 0 {
		return Result{}, apperr.New(apperr.KindUnparsable, op, "service returned no usable fit statements")
	}

	res := Result{CandidateID: cand.ID, Statements: len(stmts)}
	err = e.store.Transaction(ctx, func(tx *storage.Store) error {
		if err := tx.ReplaceMatchStatements(ctx, cand.ID, stmts); err != nil {
			return err
		}
		values := map[string]any{"matched_at": time.Now()}
		if eval.summaryErr == nil {
			values["overall_fit"] = flatten(eval.summary.OverallFit)
			values["key_strengths"] = flatten(eval.summary.KeyStrengths)
			values["missing_gaps"] = flatten(eval.summary.MissingGaps)
		}
		if err := tx.UpdateCandidate(ctx, cand.ID, values); err != nil {
			return err
		}
		pct, bucket, err := Recompute(ctx, tx, posting.ID, cand.ID)
		if err != nil {
			return err
		}
		res.Percentage, res.Bucket = pct, bucket
		return nil
	})
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindPersistence, op, err)
	}

	res.Message = fmt.Sprintf("Match complete: %.1f%% (%s).", res.Percentage, res.Bucket)
	if eval.summaryErr != nil {
		res.Partial = true
		res.Message = fmt.Sprintf("Fit statements saved (%.1f%%, %s), but the summary failed: %v", res.Percentage, res.Bucket, eval.summaryErr)
	}
	log.Info("candidate matched", zap.Int("statements", res.Statements), zap.Float64("percentage", res.Percentage), zap.Bool("partial", res.Partial))
	return res, nil
}

func (e *Engine) runSingle(ctx context.Context, reqs []model.Requirement, doc *llm.Document) (evaluation, error) {
	prompt := prompts.Render(e.prompts.MatchSingle, prompts.PlaceholderRequirements, requirementsJSON(reqs))
	raw, err := e.client.Generate(ctx, llm.Request{
		Operation:   "match_single",
		Instruction: instruction,
		Prompt:      prompt,
		Document:    doc,
		Shape:       singleShape.Schema(),
	})
	if err != nil {
		return evaluation{}, err
	}
	var out singleResult
	if err := singleShape.Decode(raw, &out); err != nil {
		return evaluation{}, err
	}
	return evaluation{statements: out.Statements, summary: out.summary()}, nil
}

// runMulti 每个非空类别调用一次，最后仅凭汇总笔记生成总体评价，不再发送文档。
func (e *Engine) runMulti(ctx context.Context, reqs []model.Requirement, doc *llm.Document) (evaluation, error) {
	var (
		eval  evaluation
		notes []note
	)
	byID := make(map[uint]model.Requirement, len(reqs))
	for _, r := range reqs {
		byID[r.ID] = r
	}

	for _, g := range Partition(reqs) {
		prompt := prompts.Render(e.prompts.MatchMulti,
			prompts.PlaceholderCategory, g.Category,
			prompts.PlaceholderRequirements, requirementsJSON(g.Requirements))
		raw, err := e.client.Generate(ctx, llm.Request{
			Operation:   "match_multi",
			Instruction: instruction,
			Prompt:      prompt,
			Document:    doc,
			Shape:       categoryShape.Schema(),
		})
		if err != nil {
			return evaluation{}, fmt.Errorf("category %s: %w", g.Category, err)
		}
		var out categoryResult
		if err := categoryShape.Decode(raw, &out); err != nil {
			return evaluation{}, fmt.Errorf("category %s: %w", g.Category, err)
		}
		e.logger.Debug("category evaluated", zap.String("category", g.Category), zap.Int("statements", len(out.Statements)))
		eval.statements = append(eval.statements, out.Statements...)
		for _, st := range out.Statements {
			notes = append(notes, note{
				Category:    g.Category,
				Requirement: byID[st.RequirementID].Text,
				MatchFit:    st.MatchFit,
				Explanation: st.Explanation,
			})
		}
	}

	notesJSON, err := json.MarshalIndent(notes, "", "  ")
	if err != nil {
		eval.summaryErr = fmt.Errorf("encode analysis notes: %w", err)
		return eval, nil
	}
	raw, err := e.client.Generate(ctx, llm.Request{
		Operation:   "match_summary",
		Instruction: instruction,
		Prompt:      prompts.Render(e.prompts.MatchSummary, prompts.PlaceholderNotes, string(notesJSON)),
		Shape:       summaryShape.Schema(),
	})
	if err == nil {
		err = summaryShape.Decode(raw, &eval.summary)
	}
	if err != nil {
		e.logger.Warn("match summary failed, keeping statements", zap.Error(err))
		eval.summaryErr = err
	}
	return eval, nil
}

type note struct {
	Category    string `json:"category"`
	Requirement string `json:"requirement"`
	MatchFit    string `json:"match_fit"`
	Explanation string `json:"explanation"`
}

type promptRequirement struct {
	ID                    uint     `json:"requirement_id"`
	Requirement           string   `json:"requirement"`
	Weight                float64  `json:"weight"`
	Category              string   `json:"category,omitempty"`
	RelevantOrganizations []string `json:"relevant_organizations,omitempty"`
}

func requirementsJSON(reqs []model.Requirement) string {
	list := make([]promptRequirement, 0, len(reqs))
	for _, r := range reqs {
		list = append(list, promptRequirement{
			ID:                    r.ID,
			Requirement:           r.Text,
			Weight:                r.Weight,
			Category:              strings.Join(r.TagNames(), ", "),
			RelevantOrganizations: r.RelevantOrganizations,
		})
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(data)
}

// buildStatements 丢弃未知要求与无法识别的等级，同一要求只保留第一条。
func buildStatements(candidateID uint, items []statementItem, reqs []model.Requirement) []model.MatchStatement {
	known := make(map[uint]struct{}, len(reqs))
	for _, r := range reqs {
		known[r.ID] = struct{}{}
	}
	seen := make(map[uint]struct{}, len(items))
	stmts := make([]model.MatchStatement, 0, len(items))
	for _, it := range items {
		if _, ok := known[it.RequirementID]; !ok {
			continue
		}
		if _, dup := seen[it.RequirementID]; dup {
			continue
		}
		fit, ok := ParseFit(it.MatchFit)
		if !ok {
			continue
		}
		seen[it.RequirementID] = struct{}{}
		stmts = append(stmts, model.MatchStatement{
			CandidateID:   candidateID,
			RequirementID: it.RequirementID,
			Fit:           string(fit),
			Score:         fit.Score(),
			Explanation:   strings.TrimSpace(it.Explanation),
		})
	}
	return stmts
}

// Recompute 依据现存要求重新计算候选人匹配度并替换分档标签。
func Recompute(ctx context.Context, tx *storage.Store, postingID, candidateID uint) (float64, string, error) {
	weights, err := tx.RequirementWeights(ctx, postingID)
	if err != nil {
		return 0, "", err
	}
	stmts, err := tx.ListMatchStatements(ctx, candidateID)
	if err != nil {
		return 0, "", err
	}
	pct := Aggregate(stmts, weights)
	bucket := Bucket(pct)
	if err := tx.UpdateCandidate(ctx, candidateID, map[string]any{"match_percentage": pct}); err != nil {
		return 0, "", err
	}
	tag, err := tx.EnsureCandidateTag(ctx, bucket)
	if err != nil {
		return 0, "", err
	}
	if err := tx.ReplaceCandidateTags(ctx, candidateID, BucketLabels, tag); err != nil {
		return 0, "", err
	}
	return pct, bucket, nil
}

// Rescore 重算匹配度，供要求替换后调用。
func Rescore(ctx context.Context, tx *storage.Store, postingID, candidateID uint) error {
	_, _, err := Recompute(ctx, tx, postingID, candidateID)
	return err
}

// Request 为每个候选人提交一个匹配单元，返回已排队的 ID。
func (e *Engine) Request(ctx context.Context, candidateIDs []uint, recipientID *uint) ([]uint, error) {
	const op = "matching.request"
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if len(candidateIDs) == 0 {
		return nil, apperr.New(apperr.KindInvalidInput, op, "no candidates to match")
	}
	queued := make([]uint, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		if _, err := e.store.GetCandidate(ctx, id); err != nil {
			return queued, lookupError(op, err)
		}
		if _, err := e.queue.Submit(queue.Unit{Name: UnitMatch, Args: Args{CandidateID: id, RecipientID: recipientID}}); err != nil {
			return queued, apperr.Wrap(apperr.KindConflict, op, err)
		}
		queued = append(queued, id)
	}
	return queued, nil
}

// RequestPosting 为职位下已完成解析的候选人提交匹配。
func (e *Engine) RequestPosting(ctx context.Context, postingID uint, recipientID *uint) ([]uint, error) {
	const op = "matching.request_posting"
	if _, err := e.store.GetPosting(ctx, postingID); err != nil {
		return nil, lookupError(op, err)
	}
	cands, err := e.store.ListCandidates(ctx, postingID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, op, err)
	}
	ids := make([]uint, 0, len(cands))
	for _, c := range cands {
		if c.ExtractState == model.ExtractDone {
			ids = append(ids, c.ID)
		}
	}
	return e.Request(ctx, ids, recipientID)
}

// Handle 队列处理器入口，每个候选人发送一条通知。
func (e *Engine) Handle(ctx context.Context, unit queue.Unit) error {
	args, ok := unit.Args.(Args)
	if !ok {
		return fmt.Errorf("handle %s: unexpected args %T", unit.Name, unit.Args)
	}
	res, err := e.Match(ctx, args.CandidateID)
	msg := notifier.Message{Title: "Candidate match complete", Body: fmt.Sprintf("Candidate #%d: %s", args.CandidateID, res.Message), Level: notifier.LevelSuccess}
	switch {
	case err != nil:
		msg = notifier.Message{Title: "Candidate match failed", Body: fmt.Sprintf("Candidate #%d: %v", args.CandidateID, err), Level: notifier.LevelWarning}
	case res.Partial:
		msg.Level = notifier.LevelWarning
	}
	if e.notifier != nil {
		if nerr := e.notifier.Notify(ctx, args.RecipientID, msg); nerr != nil {
			e.logger.Warn("send notification failed", zap.Error(nerr))
		}
	}
	return err
}

func lookupError(op string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.Wrap(apperr.KindNotFound, op, err)
	}
	return apperr.Wrap(apperr.KindPersistence, op, err)
}
