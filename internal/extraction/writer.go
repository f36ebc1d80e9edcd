package extraction

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"talent-radar/internal/apperr"
	"talent-radar/internal/logger"
	"talent-radar/internal/storage"
	"talent-radar/internal/taxonomy"

	"go.uber.org/zap"
)

const (
	// MessageSuccess 两步均成功时的状态信息。
	MessageSuccess = "Successfully extracted data."
	titleSuffix    = "'s Application"
)

var profileURL = regexp.MustCompile(`(https?://[^\s)\]]+)`)

// Outcome 写入结果：Partial 表示基础字段已保存但技能关联失败。
type Outcome struct {
	Partial bool
	Linked  int
	Message string
}

// SkillLinker 将技能记录关联到候选人，由 taxonomy.Resolver 实现。
type SkillLinker interface {
	Resolve(ctx context.Context, tx *storage.Store, candidateID uint, items []taxonomy.Item, cache *taxonomy.Cache) (int, error)
}

// Writer 将解析结果分两步写入候选人，每步使用独立保存点。
type Writer struct {
	skills SkillLinker
	logger *zap.Logger
}

// NewWriter 创建写入器，skills 为空时使用默认解析器。
func NewWriter(skills SkillLinker, log *zap.Logger) *Writer {
	if skills == nil {
		skills = taxonomy.NewResolver(log)
	}
	return &Writer{skills: skills, logger: logger.OrNop(log)}
}

// Title 候选人申请标题。
func Title(name string) string {
	return name + titleSuffix
}

// ProfileLink 从可能带 markdown 包装的文本中取出 URL，找不到时原样返回。
func ProfileLink(raw string) string {
	raw = strings.TrimSpace(raw)
	if m := profileURL.FindString(raw); m != "" {
		return m
	}
	return raw
}

// Apply 在 tx 内写入 fields。基础字段失败返回错误；技能失败只降级为部分成功。
func (w *Writer) Apply(ctx context.Context, tx *storage.Store, candidateID uint, fields Fields) (Outcome, error) {
	const op = "extraction.apply"
	log := w.logger.With(zap.Uint("candidate_id", candidateID))

	if err := tx.Transaction(ctx, func(step *storage.Store) error {
		return w.writeSimple(ctx, step, candidateID, fields, log)
	}); err != nil {
		return Outcome{}, apperr.Wrap(apperr.KindPersistence, op, fmt.Errorf("write simple data: %w", err))
	}

	outcome := Outcome{Message: MessageSuccess}
	if len(fields.Skills) == 0 {
		return outcome, nil
	}

	err := tx.Transaction(ctx, func(step *storage.Store) error {
		linked, err := w.skills.Resolve(ctx, step, candidateID, fields.Skills, taxonomy.NewCache())
		outcome.Linked = linked
		return err
	})
	if err != nil {
		log.Error("process skills failed, simple data kept", zap.Error(err))
		return Outcome{
			Partial: true,
			Message: fmt.Sprintf("Successfully saved simple data, but failed to process skills: %v", err),
		}, nil
	}
	return outcome, nil
}

func (w *Writer) writeSimple(ctx context.Context, tx *storage.Store, candidateID uint, fields Fields, log *zap.Logger) error {
	cand, err := tx.GetCandidate(ctx, candidateID)
	if err != nil {
		return err
	}

	values := make(map[string]any)
	if name := strings.TrimSpace(fields.Name); name != "" {
		values["name"] = name
		if cand.Title == "" || strings.HasSuffix(cand.Title, titleSuffix) {
			values["title"] = Title(name)
		}
	}
	if email := strings.TrimSpace(fields.Email); email != "" {
		values["email"] = email
	}
	if phone := strings.TrimSpace(fields.Phone); phone != "" {
		values["phone"] = phone
	}
	if link := ProfileLink(fields.LinkedIn); link != "" {
		values["profile_link"] = link
	}
	if degreeName := strings.TrimSpace(fields.Degree); degreeName != "" {
		// 学位创建失败不影响其他字段。
		var degreeID uint
		err := tx.Transaction(ctx, func(step *storage.Store) error {
			degree, err := step.FindOrCreateDegree(ctx, degreeName)
			if err != nil {
				return err
			}
			degreeID = degree.ID
			return nil
		})
		if err != nil {
			log.Warn("resolve degree failed", zap.String("degree", degreeName), zap.Error(err))
		} else {
			values["degree_id"] = degreeID
		}
	}

	if len(values) == 0 {
		log.Info("no simple data to write")
		return nil
	}
	return tx.UpdateCandidate(ctx, candidateID, values)
}
