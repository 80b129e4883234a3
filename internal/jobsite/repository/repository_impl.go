package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldclock/internal/jobsite/domain"
	"github.com/smallbiznis/fieldclock/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertJob(ctx context.Context, db *gorm.DB, job *domain.Job) error {
	return repository.ProvideStore[domain.Job](db).Create(ctx, job)
}

func (r *repo) FindJob(ctx context.Context, db *gorm.DB, companyID, jobID snowflake.ID) (*domain.Job, error) {
	return repository.ProvideStore[domain.Job](db).FindOne(ctx, &domain.Job{ID: jobID, CompanyID: companyID})
}

func (r *repo) ListJobs(ctx context.Context, db *gorm.DB, companyID snowflake.ID) ([]*domain.Job, error) {
	return repository.ProvideStore[domain.Job](db).Find(ctx,
		&domain.Job{CompanyID: companyID},
		repository.OrderBy("name asc, id asc"),
	)
}

func (r *repo) InsertAssignment(ctx context.Context, db *gorm.DB, assignment *domain.Assignment) error {
	return repository.ProvideStore[domain.Assignment](db).Create(ctx, assignment)
}

func (r *repo) FindCoveringAssignment(ctx context.Context, db *gorm.DB, companyID, userID, jobID snowflake.ID, day time.Time) (*domain.Assignment, error) {
	return repository.ProvideStore[domain.Assignment](db).FindOne(ctx,
		&domain.Assignment{CompanyID: companyID, UserID: userID, JobID: jobID},
		repository.Where("active = ?", true),
		repository.Where("start_date <= ?", day),
		repository.Where("(end_date IS NULL OR end_date >= ?)", day),
		repository.OrderBy("start_date desc"),
	)
}

func (r *repo) FindSettings(ctx context.Context, db *gorm.DB, companyID snowflake.ID) (*domain.CompanySettings, error) {
	return repository.ProvideStore[domain.CompanySettings](db).FindOne(ctx, &domain.CompanySettings{CompanyID: companyID})
}

func (r *repo) SaveSettings(ctx context.Context, db *gorm.DB, settings *domain.CompanySettings) error {
	return repository.ProvideStore[domain.CompanySettings](db).Save(ctx, settings)
}

func (r *repo) ListAutoApproveSettings(ctx context.Context, db *gorm.DB) ([]*domain.CompanySettings, error) {
	return repository.ProvideStore[domain.CompanySettings](db).Find(ctx, nil,
		repository.Where("auto_approve_days IS NOT NULL"),
		repository.OrderBy("company_id asc"),
	)
}
