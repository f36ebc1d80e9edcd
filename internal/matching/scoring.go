package matching

import (
	"strings"

	"talent-radar/internal/model"
)

// Fit 五档有序匹配等级。
type Fit string

const (
	NotFit       Fit = "not_fit"
	PoorFit      Fit = "poor_fit"
	FitOK        Fit = "fit"
	GoodFit      Fit = "good_fit"
	ExcellentFit Fit = "excellent_fit"
)

var fitScores = map[Fit]float64{
	NotFit:       0,
	PoorFit:      25,
	FitOK:        50,
	GoodFit:      80,
	ExcellentFit: 100,
}

// Score 等级对应的分值。
func (f Fit) Score() float64 {
	return fitScores[f]
}

// ParseFit 识别 "good_fit"、"Good Fit"、"good-fit" 等写法。
func ParseFit(s string) (Fit, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	f := Fit(key)
	_, ok := fitScores[f]
	return f, ok
}

// 匹配分档标签。
const (
	BucketNotAFit   = "Not a Fit"
	BucketPoor      = "Poor Fit"
	BucketFit       = "Fit"
	BucketGood      = "Good Fit"
	BucketExcellent = "Excellent Fit"
)

// BucketLabels 全部分档标签，重新打标前需移除。
var BucketLabels = []string{BucketNotAFit, BucketPoor, BucketFit, BucketGood, BucketExcellent}

// Bucket 按百分比选择分档。
func Bucket(percentage float64) string {
	switch {
	case percentage <= 30:
		return BucketNotAFit
	case percentage <= 50:
		return BucketPoor
	case percentage <= 70:
		return BucketFit
	case percentage <= 90:
		return BucketGood
	default:
		return BucketExcellent
	}
}

// Aggregate 加权平均：Σ(score/100 × weight) / Σweight × 100。
// 引用已不存在要求的评估被忽略；总权重为 0 时返回 0。
func Aggregate(stmts []model.MatchStatement, weights map[uint]float64) float64 {
	var sum, total float64
	for _, st := range stmts {
		w, ok := weights[st.RequirementID]
		if !ok {
			continue
		}
		sum += st.Score / 100 * w
		total += w
	}
	if total == 0 {
		return 0
	}
	return sum / total * 100
}
