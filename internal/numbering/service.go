package numbering

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/projectrefill/refill-backend/pkg/db/models"
	pkgerrors "github.com/projectrefill/refill-backend/pkg/errors"
)

const (
	periodLayout = "20060102"
	counterWidth = 6
)

var prefixRe = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,15}$`)

// Service hands out business numbers from a locked counter row per prefix.
type Service struct {
	now func() time.Time
}

// Option customises the Service.
type Option func(*Service)

// WithClock overrides the time source used for the daily reset.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(opts ...Option) *Service {
	s := &Service{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate returns the next number for prefix. It must run inside the caller's
// transaction: the counter row stays locked until that transaction ends, so
// concurrent callers queue behind it and never observe the same value.
//
// With resetDaily the counter restarts at 1 on each new UTC day and the date is
// embedded in the number (PREFIX-YYYYMMDD-000001) so values never repeat.
// Otherwise the format is PREFIX-000001.
func (s *Service) Generate(ctx context.Context, tx *gorm.DB, prefix string, resetDaily bool) (string, error) {
	if tx == nil {
		return "", errors.New("transaction required")
	}
	if !prefixRe.MatchString(prefix) {
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid number prefix %q", prefix))
	}

	tx = tx.WithContext(ctx)
	seed := models.NumberSequence{Prefix: prefix}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "seed number sequence")
	}

	var seq models.NumberSequence
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("prefix = ?", prefix).
		First(&seq).Error; err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock number sequence")
	}

	period := ""
	if resetDaily {
		period = s.now().UTC().Format(periodLayout)
		if seq.Period != period {
			seq.Value = 0
		}
	}
	next := seq.Value + 1

	if err := tx.Model(&models.NumberSequence{}).
		Where("prefix = ?", prefix).
		Updates(map[string]any{
			"period":     period,
			"value":      next,
			"updated_at": s.now().UTC(),
		}).Error; err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "advance number sequence")
	}

	return Format(prefix, period, next), nil
}

// Current returns the last issued value and its period without advancing the counter.
func (s *Service) Current(ctx context.Context, db *gorm.DB, prefix string) (models.NumberSequence, error) {
	var seq models.NumberSequence
	err := db.WithContext(ctx).Where("prefix = ?", prefix).First(&seq).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NumberSequence{Prefix: prefix}, nil
	}
	return seq, err
}

// Format renders a business number.
func Format(prefix, period string, value int64) string {
	if period == "" {
		return fmt.Sprintf("%s-%0*d", prefix, counterWidth, value)
	}
	return fmt.Sprintf("%s-%s-%0*d", prefix, period, counterWidth, value)
}
