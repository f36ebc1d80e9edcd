package requirements

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"talent-radar/internal/apperr"
	"talent-radar/internal/document"
	"talent-radar/internal/llm"
	"talent-radar/internal/logger"
	"talent-radar/internal/model"
	"talent-radar/internal/normalize"
	"talent-radar/internal/prompts"
	"talent-radar/internal/storage"

	"go.uber.org/zap"
)

const instruction = "You are an expert HR analyst that turns job descriptions into weighted requirement statements. Respond with JSON only."

var listShape = normalize.MustShape("requirement_list", `{
  "type": "object",
  "required": ["requirements"],
  "properties": {
    "requirements": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "requirement": {"type": ["string", "null"]},
          "weight": {"type": ["number", "string", "null"]},
          "category": {"type": ["string", "null"]},
          "relevant_organizations": {"type": ["array", "null"], "items": {"type": "string"}}
        }
      }
    }
  }
}`)

// Item 服务返回的一条要求。
type Item struct {
	Requirement           string   `json:"requirement"`
	Weight                float64  `json:"weight"`
	Category              string   `json:"category"`
	RelevantOrganizations []string `json:"relevant_organizations"`
}

type list struct {
	Requirements []Item `json:"requirements"`
}

// Rescorer 在 tx 内重新计算候选人的匹配度与分档。
type Rescorer func(ctx context.Context, tx *storage.Store, postingID, candidateID uint) error

// Extractor 将职位描述文档转换为带权重的要求列表，并整体替换职位现有要求。
type Extractor struct {
	store   *storage.Store
	client  llm.Client
	prompts prompts.Set
	rescore Rescorer
	logger  *zap.Logger
}

// NewExtractor 创建提取器；rescore 为 nil 时替换要求后不重算匹配度。
func NewExtractor(store *storage.Store, client llm.Client, set prompts.Set, rescore Rescorer, log *zap.Logger) *Extractor {
	return &Extractor{store: store, client: client, prompts: set, rescore: rescore, logger: logger.OrNop(log)}
}

// Extract 解析文档并替换职位要求，返回新的要求列表。服务返回零条要求时整体失败，原要求保留。
func (e *Extractor) Extract(ctx context.Context, postingID, documentID uint) ([]model.Requirement, error) {
	const op = "requirements.extract"
	if err := e.client.Validate(); err != nil {
		return nil, err
	}

	if _, err := e.store.GetPosting(ctx, postingID); err != nil {
		return nil, lookupError(op, err)
	}
	doc, err := e.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, lookupError(op, err)
	}
	if doc.PostingID != nil && *doc.PostingID != postingID {
		return nil, apperr.New(apperr.KindInvalidInput, op, fmt.Sprintf("document %d belongs to another posting", documentID))
	}

	payload, err := document.Prepare(document.Payload{Name: doc.Name, MIMEType: doc.MIMEType, Data: doc.Data})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, op, err)
	}
	raw, err := e.client.Generate(ctx, llm.Request{
		Operation:   "jd_extraction",
		Instruction: instruction,
		Prompt:      e.prompts.JDExtraction,
		Document:    &llm.Document{Name: payload.Name, MIMEType: payload.MIMEType, Data: payload.Data},
		Shape:       listShape.Schema(),
	})
	if err != nil {
		return nil, err
	}

	var parsed list
	if err := listShape.Decode(raw, &parsed); err != nil {
		e.logger.Warn("unparsable requirement response", zap.String("raw", logger.TruncateForLog(raw, 500)), zap.Error(err))
		return nil, err
	}
	items := Clean(parsed.Requirements)
	if len(items) == 0 {
		return nil, apperr.New(apperr.KindUnparsable, op, "service returned no requirements")
	}

	if err := e.store.Transaction(ctx, func(tx *storage.Store) error {
		return Replace(ctx, tx, postingID, items, e.rescore)
	}); err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, op, err)
	}
	e.logger.Info("requirements replaced", zap.Uint("posting_id", postingID), zap.Int("count", len(items)))

	reqs, err := e.store.ListRequirements(ctx, postingID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, op, err)
	}
	return reqs, nil
}

// Clean 去掉空白要求，非正权重回退为 1.0。
func Clean(items []Item) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		it.Requirement = strings.TrimSpace(it.Requirement)
		if it.Requirement == "" {
			continue
		}
		if it.Weight <= 0 {
			it.Weight = 1.0
		}
		it.Category = strings.TrimSpace(it.Category)
		orgs := it.RelevantOrganizations[:0:0]
		for _, org := range it.RelevantOrganizations {
			if org = strings.TrimSpace(org); org != "" {
				orgs = append(orgs, org)
			}
		}
		it.RelevantOrganizations = orgs
		out = append(out, it)
	}
	return out
}

// Replace 在 tx 内删除职位旧要求并按顺序创建新要求，标签按名称大小写不敏感复用。
// 旧要求上的评估随之删除，受影响的候选人在同一事务内经 rescore 重算。
func Replace(ctx context.Context, tx *storage.Store, postingID uint, items []Item, rescore Rescorer) error {
	affected, err := tx.DeleteRequirements(ctx, postingID)
	if err != nil {
		return err
	}
	tags := make(map[string]*model.RequirementTag)
	for i, it := range items {
		req := &model.Requirement{
			PostingID:             postingID,
			Text:                  it.Requirement,
			Sequence:              i + 1,
			Weight:                it.Weight,
			RelevantOrganizations: it.RelevantOrganizations,
		}
		if it.Category != "" {
			key := strings.ToLower(it.Category)
			tag, ok := tags[key]
			if !ok {
				var err error
				tag, err = tx.FindOrCreateRequirementTag(ctx, it.Category)
				if err != nil {
					return err
				}
				tags[key] = tag
			}
			req.Tags = []model.RequirementTag{*tag}
		}
		if err := tx.CreateRequirement(ctx, req); err != nil {
			return err
		}
	}
	if rescore == nil {
		return nil
	}
	for _, candidateID := range affected {
		if err := rescore(ctx, tx, postingID, candidateID); err != nil {
			return fmt.Errorf("rescore candidate %d: %w", candidateID, err)
		}
	}
	return nil
}

func lookupError(op string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.Wrap(apperr.KindNotFound, op, err)
	}
	return apperr.Wrap(apperr.KindPersistence, op, err)
}
