package pipeline

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"smartpark/ml"
)

// CleaningRule 清洗规则
type CleaningRule interface {
	Apply(*ml.TrainingRecord) (*ml.TrainingRecord, error)
	Name() string
}

// statefulRule 每次清洗前需要重置状态的规则
type statefulRule interface {
	Reset()
}

// QualityIssue 质量问题
type QualityIssue struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"` // low, medium, high
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Row       int       `json:"row"`
}

// DataCleaner 数据清洗器
type DataCleaner struct {
	rules      []CleaningRule
	issues     []QualityIssue
	issuesLock sync.RWMutex

	stats     CleaningStats
	statsLock sync.RWMutex

	logger *zap.Logger
}

// CleaningStats 清洗统计
type CleaningStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Rejected       int64            `json:"rejected"`
	Issues         map[string]int64 `json:"issues"`
	LastClean      time.Time        `json:"last_clean"`
}

// NewDataCleaner 创建数据清洗器
func NewDataCleaner(logger *zap.Logger) *DataCleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	cleaner := &DataCleaner{
		rules:  make([]CleaningRule, 0),
		issues: make([]QualityIssue, 0),
		stats: CleaningStats{
			Issues: make(map[string]int64),
		},
		logger: logger,
	}

	// 添加默认规则
	cleaner.AddRule(NewRangeValidationRule(ml.ColumnDuration, 0, math.Inf(1)))
	cleaner.AddRule(NewRangeValidationRule(ml.ColumnCost, 0, math.Inf(1)))
	cleaner.AddRule(NewRangeValidationRule(ml.ColumnOccupancyRate, 0, 100))
	cleaner.AddRule(NewRangeValidationRule(ml.ColumnTimeOfDay, 0, 24))
	cleaner.AddRule(NewTargetValidationRule())
	cleaner.AddRule(NewDuplicateDetectionRule())

	return cleaner
}

// AddRule 添加清洗规则
func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
	dc.logger.Debug("added cleaning rule", zap.String("rule", rule.Name()))
}

// Clean 清洗数据，返回保留的记录和发现的问题
func (dc *DataCleaner) Clean(records []ml.TrainingRecord) ([]ml.TrainingRecord, []QualityIssue) {
	var cleaned []ml.TrainingRecord
	var issues []QualityIssue

	dc.statsLock.Lock()
	defer dc.statsLock.Unlock()

	for _, rule := range dc.rules {
		if r, ok := rule.(statefulRule); ok {
			r.Reset()
		}
	}

	for i := range records {
		dc.stats.TotalProcessed++

		record := &records[i]
		var recordIssues []QualityIssue

		// 应用所有规则
		for _, rule := range dc.rules {
			result, err := rule.Apply(record)
			if err != nil {
				issue := QualityIssue{
					Type:      rule.Name(),
					Severity:  "high",
					Message:   err.Error(),
					Timestamp: time.Now(),
					Row:       i,
				}
				recordIssues = append(recordIssues, issue)
				dc.recordIssue(rule.Name())
				continue
			}

			if result != nil {
				record = result
			}
		}

		// 处理问题
		if len(recordIssues) > 0 {
			dc.stats.Rejected++
			issues = append(issues, recordIssues...)
			dc.issuesLock.Lock()
			dc.issues = append(dc.issues, recordIssues...)
			dc.issuesLock.Unlock()
		} else {
			dc.stats.Passed++
			cleaned = append(cleaned, *record)
		}
	}

	dc.stats.LastClean = time.Now()
	dc.logger.Info("dataset cleaned",
		zap.Int("input", len(records)),
		zap.Int("kept", len(cleaned)),
		zap.Int("issues", len(issues)))

	return cleaned, issues
}

// recordIssue 记录问题
func (dc *DataCleaner) recordIssue(issueType string) {
	dc.stats.Issues[issueType]++
}

// GetStats 获取统计信息
func (dc *DataCleaner) GetStats() CleaningStats {
	dc.statsLock.RLock()
	defer dc.statsLock.RUnlock()

	stats := dc.stats
	stats.Issues = make(map[string]int64, len(dc.stats.Issues))
	for k, v := range dc.stats.Issues {
		stats.Issues[k] = v
	}
	return stats
}

// GetIssues 获取最近的问题列表
func (dc *DataCleaner) GetIssues(limit int) []QualityIssue {
	dc.issuesLock.RLock()
	defer dc.issuesLock.RUnlock()

	if limit <= 0 || limit > len(dc.issues) {
		limit = len(dc.issues)
	}

	issues := make([]QualityIssue, limit)
	copy(issues, dc.issues[len(dc.issues)-limit:])
	return issues
}

// ============ 清洗规则实现 ============

// RangeValidationRule 数值范围验证规则（闭区间）
type RangeValidationRule struct {
	Column string
	Min    float64
	Max    float64
}

func NewRangeValidationRule(column string, min, max float64) *RangeValidationRule {
	return &RangeValidationRule{Column: column, Min: min, Max: max}
}

func (r *RangeValidationRule) Name() string {
	return r.Column + "_range"
}

func (r *RangeValidationRule) Apply(record *ml.TrainingRecord) (*ml.TrainingRecord, error) {
	v, err := record.NumericValue(r.Column)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(v) || v < r.Min || v > r.Max {
		return nil, fmt.Errorf("%s %v out of range [%v, %v]", r.Column, v, r.Min, r.Max)
	}
	return record, nil
}

// TargetValidationRule 目标值验证规则
type TargetValidationRule struct{}

func NewTargetValidationRule() *TargetValidationRule {
	return &TargetValidationRule{}
}

func (r *TargetValidationRule) Name() string {
	return "target_validation"
}

func (r *TargetValidationRule) Apply(record *ml.TrainingRecord) (*ml.TrainingRecord, error) {
	if math.IsNaN(record.DiscountRate) || math.IsInf(record.DiscountRate, 0) {
		return nil, fmt.Errorf("discount_rate %v is not finite", record.DiscountRate)
	}
	return record, nil
}

// DuplicateDetectionRule 重复检测规则
type DuplicateDetectionRule struct {
	seenMap map[string]struct{}
	mu      sync.Mutex
}

func NewDuplicateDetectionRule() *DuplicateDetectionRule {
	return &DuplicateDetectionRule{
		seenMap: make(map[string]struct{}),
	}
}

func (r *DuplicateDetectionRule) Name() string {
	return "duplicate_detection"
}

func (r *DuplicateDetectionRule) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seenMap = make(map[string]struct{})
}

func (r *DuplicateDetectionRule) Apply(record *ml.TrainingRecord) (*ml.TrainingRecord, error) {
	key := fmt.Sprintf("%s|%s|%v", record.Fingerprint(), record.Timestamp, record.DiscountRate)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.seenMap[key]; exists {
		return nil, fmt.Errorf("duplicate record at %q", record.Timestamp)
	}

	r.seenMap[key] = struct{}{}
	return record, nil
}
