package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"talent-radar/internal/apperr"
	"talent-radar/internal/logger"
	"talent-radar/internal/model"
	"talent-radar/internal/storage"

	"go.uber.org/zap"
)

// Item 一条待解析的技能记录。
type Item struct {
	Type  string `json:"type" mapstructure:"type"`
	Skill string `json:"skill" mapstructure:"skill"`
	Level string `json:"level" mapstructure:"level"`
}

// Cache 单个文档处理期间的查找缓存，键为小写名称。不得跨文档复用。
type Cache struct {
	types    map[string]*model.SkillType
	levels   map[string]*model.SkillLevel
	skills   map[string]*model.Skill
	pairs    map[[2]uint]bool
	fallback *model.SkillLevel
}

// NewCache 创建空缓存。
func NewCache() *Cache {
	return &Cache{
		types:  make(map[string]*model.SkillType),
		levels: make(map[string]*model.SkillLevel),
		skills: make(map[string]*model.Skill),
		pairs:  make(map[[2]uint]bool),
	}
}

// Resolver 查找或创建技能类别、等级与技能，并与候选人关联。
type Resolver struct {
	logger *zap.Logger
}

// NewResolver 创建解析器。
func NewResolver(log *zap.Logger) *Resolver {
	return &Resolver{logger: logger.OrNop(log)}
}

// Resolve 在 tx 内处理 items，返回新建关联数。任一条失败即返回 taxonomy 类错误，由调用方回滚该步骤。
func (r *Resolver) Resolve(ctx context.Context, tx *storage.Store, candidateID uint, items []Item, cache *Cache) (int, error) {
	const op = "taxonomy.resolve"
	if cache == nil {
		cache = NewCache()
	}
	linked := 0
	for _, item := range items {
		skillName := strings.TrimSpace(item.Skill)
		if skillName == "" {
			continue
		}
		created, err := r.resolveItem(ctx, tx, candidateID, item, skillName, cache)
		if err != nil {
			return linked, apperr.Wrap(apperr.KindTaxonomy, op, fmt.Errorf("skill %q: %w", skillName, err))
		}
		if created {
			linked++
		}
	}
	r.logger.Debug("skills linked", zap.Uint("candidate_id", candidateID), zap.Int("items", len(items)), zap.Int("linked", linked))
	return linked, nil
}

func (r *Resolver) resolveItem(ctx context.Context, tx *storage.Store, candidateID uint, item Item, skillName string, cache *Cache) (bool, error) {
	skillType, err := r.skillType(ctx, tx, item.Type, cache)
	if err != nil {
		return false, err
	}
	level, err := r.level(ctx, tx, item.Level, cache)
	if err != nil {
		return false, err
	}
	if err := r.registerLevel(ctx, tx, skillType.ID, level, cache); err != nil {
		return false, err
	}
	skill, err := r.skill(ctx, tx, skillName, skillType.ID, cache)
	if err != nil {
		return false, err
	}

	exists, err := tx.HasCandidateSkill(ctx, candidateID, skill.ID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	link := &model.CandidateSkill{
		CandidateID:  candidateID,
		SkillID:      skill.ID,
		SkillLevelID: level.ID,
		SkillTypeID:  skillType.ID,
	}
	if err := tx.CreateCandidateSkill(ctx, link); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Resolver) skillType(ctx context.Context, tx *storage.Store, name string, cache *Cache) (*model.SkillType, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultTypeName
	}
	key := strings.ToLower(name)
	if st, ok := cache.types[key]; ok {
		return st, nil
	}
	st, err := tx.FindSkillType(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		st = &model.SkillType{Name: name}
		err = tx.CreateSkillType(ctx, st)
	}
	if err != nil {
		return nil, err
	}
	cache.types[key] = st
	return st, nil
}

func (r *Resolver) level(ctx context.Context, tx *storage.Store, raw string, cache *Cache) (*model.SkillLevel, error) {
	label := ParseLevelLabel(raw)
	if label.Name == "" {
		return r.fallbackLevel(ctx, tx, cache)
	}

	key := strings.ToLower(label.Name)
	if label.Exact {
		key = fmt.Sprintf("%s|%d", key, label.Progress)
	}
	if level, ok := cache.levels[key]; ok {
		return level, nil
	}

	var (
		level *model.SkillLevel
		err   error
	)
	if label.Exact {
		level, err = tx.FindSkillLevel(ctx, label.Name, &label.Progress)
		if errors.Is(err, storage.ErrNotFound) {
			level = &model.SkillLevel{Name: label.Name, Progress: label.Progress}
			err = tx.CreateSkillLevel(ctx, level)
		}
	} else {
		level, err = tx.FindSkillLevel(ctx, label.Name, nil)
		if errors.Is(err, storage.ErrNotFound) {
			level, err = r.fallbackLevel(ctx, tx, cache)
		}
	}
	if err != nil {
		return nil, err
	}
	cache.levels[key] = level
	return level, nil
}

// fallbackLevel 默认等级：Beginner 15% → 任意 Beginner → 最低正进度等级 → 新建 Beginner 15%。
func (r *Resolver) fallbackLevel(ctx context.Context, tx *storage.Store, cache *Cache) (*model.SkillLevel, error) {
	if cache.fallback != nil {
		return cache.fallback, nil
	}
	progress := DefaultLevelProgress
	steps := []func() (*model.SkillLevel, error){
		func() (*model.SkillLevel, error) { return tx.FindSkillLevel(ctx, DefaultLevelName, &progress) },
		func() (*model.SkillLevel, error) { return tx.FindSkillLevel(ctx, DefaultLevelName, nil) },
		func() (*model.SkillLevel, error) { return tx.LowestPositiveSkillLevel(ctx) },
	}
	for _, step := range steps {
		level, err := step()
		if err == nil {
			cache.fallback = level
			return level, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}
	level := &model.SkillLevel{Name: DefaultLevelName, Progress: DefaultLevelProgress}
	if err := tx.CreateSkillLevel(ctx, level); err != nil {
		return nil, err
	}
	r.logger.Info("default skill level created", zap.String("level", level.Name), zap.Int("progress", level.Progress))
	cache.fallback = level
	return level, nil
}

// registerLevel 确保等级已登记在类别下，每个组合只写一次。
func (r *Resolver) registerLevel(ctx context.Context, tx *storage.Store, typeID uint, level *model.SkillLevel, cache *Cache) error {
	pair := [2]uint{typeID, level.ID}
	if cache.pairs[pair] {
		return nil
	}
	ok, err := tx.HasTypeLevel(ctx, typeID, level.ID)
	if err != nil {
		return err
	}
	if !ok {
		if err := tx.AddTypeLevel(ctx, typeID, level); err != nil {
			return err
		}
	}
	cache.pairs[pair] = true
	return nil
}

func (r *Resolver) skill(ctx context.Context, tx *storage.Store, name string, typeID uint, cache *Cache) (*model.Skill, error) {
	key := strings.ToLower(name)
	skill, ok := cache.skills[key]
	if !ok {
		var err error
		skill, err = tx.FindSkill(ctx, name)
		if errors.Is(err, storage.ErrNotFound) {
			skill = &model.Skill{Name: name, SkillTypeID: typeID}
			err = tx.CreateSkill(ctx, skill)
		}
		if err != nil {
			return nil, err
		}
		cache.skills[key] = skill
	}
	if skill.SkillTypeID != typeID {
		// 最后一次分类生效。
		if err := tx.SetSkillType(ctx, skill.ID, typeID); err != nil {
			return nil, err
		}
		r.logger.Debug("skill retyped", zap.String("skill", skill.Name), zap.Uint("from", skill.SkillTypeID), zap.Uint("to", typeID))
		skill.SkillTypeID = typeID
	}
	return skill, nil
}
