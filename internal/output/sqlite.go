package output

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/simplesurance/prsync/internal/logfields"
	"github.com/simplesurance/prsync/internal/record"
	"github.com/simplesurance/prsync/internal/snapshot"
)

const sqliteBatchSize = 100

type pullRequestModel struct {
	Owner      string `gorm:"primaryKey"`
	Repository string `gorm:"primaryKey"`
	Number     int    `gorm:"primaryKey;autoIncrement:false"`

	State          string     `gorm:"not null;index:idx_state"`
	CreatedAt      time.Time  `gorm:"not null;autoCreateTime:false"`
	UpdatedAt      time.Time  `gorm:"not null;autoUpdateTime:false"`
	ClosedAt       *time.Time
	Title          string     `gorm:"not null;default:''"`
	Body           string     `gorm:"not null;default:''"`
	User           string     `gorm:"not null;default:'';index:idx_user"`
	HTMLURL        string     `gorm:"not null;default:''"`
	HeadRef        string     `gorm:"not null;default:''"`
	HeadSHA        string     `gorm:"not null;default:''"`
	BaseRef        string     `gorm:"not null;default:''"`
	BaseSHA        string     `gorm:"not null;default:''"`
	CombinedStatus string     `gorm:"not null;default:'unknown'"`
	IsMerged       *bool
	MergedBy       string     `gorm:"not null;default:''"`
	SyncID         string     `gorm:"not null;default:''"`
}

func (pullRequestModel) TableName() string { return "pull_requests" }

type issueCommentModel struct {
	ID                uint   `gorm:"primaryKey"`
	Owner             string `gorm:"not null;index:idx_comment_pr"`
	Repository        string `gorm:"not null;index:idx_comment_pr"`
	PullRequestNumber int    `gorm:"not null;index:idx_comment_pr"`
	Position          int    `gorm:"not null"`
	Author            string `gorm:"not null;default:''"`
	Body              string `gorm:"not null;default:''"`
}

func (issueCommentModel) TableName() string { return "issue_comments" }

func toPullRequestModel(snap *snapshot.Snapshot, pr *record.PullRequest) *pullRequestModel {
	m := pullRequestModel{
		Owner:          snap.Owner,
		Repository:     snap.Repository,
		Number:         pr.Number,
		State:          string(pr.State),
		CreatedAt:      pr.CreatedAt,
		UpdatedAt:      pr.UpdatedAt,
		ClosedAt:       pr.ClosedAt,
		Title:          pr.Title,
		Body:           pr.Body,
		User:           pr.User,
		HTMLURL:        pr.HTMLURL,
		CombinedStatus: string(pr.CombinedStatus),
		IsMerged:       pr.IsMerged,
		MergedBy:       pr.MergedBy,
		SyncID:         snap.SyncID,
	}

	if pr.Head != nil {
		m.HeadRef = pr.Head.Ref
		m.HeadSHA = pr.Head.SHA
	}

	if pr.Base != nil {
		m.BaseRef = pr.Base.Ref
		m.BaseSHA = pr.Base.SHA
	}

	return &m
}

// SQLiteExporter writes pull request records into a SQLite database.
// Existing rows of the same repository and pull request number are
// replaced.
type SQLiteExporter struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewSQLiteExporter(dbPath string) (*SQLiteExporter, error) {
	logger := zap.L().Named("sqlite_exporter").With(zap.String("db_file", dbPath))

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger:  newGormLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database failed: %w", err)
	}

	if err := db.AutoMigrate(&pullRequestModel{}, &issueCommentModel{}); err != nil {
		return nil, fmt.Errorf("migrating database schema failed: %w", err)
	}

	return &SQLiteExporter{db: db, logger: logger}, nil
}

// Export upserts prs of the repository of snap.
// The issue comments of every exported pull request are replaced.
func (e *SQLiteExporter) Export(ctx context.Context, snap *snapshot.Snapshot, prs []*record.PullRequest) error {
	models := make([]*pullRequestModel, 0, len(prs))
	for _, pr := range prs {
		models = append(models, toPullRequestModel(snap, pr))
	}

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(models) == 0 {
			return nil
		}

		err := tx.Clauses(clause.OnConflict{UpdateAll: true}).
			CreateInBatches(models, sqliteBatchSize).Error
		if err != nil {
			return fmt.Errorf("upserting pull requests failed: %w", err)
		}

		for _, pr := range prs {
			err := tx.Where(
				"owner = ? AND repository = ? AND pull_request_number = ?",
				snap.Owner, snap.Repository, pr.Number,
			).Delete(&issueCommentModel{}).Error
			if err != nil {
				return fmt.Errorf("deleting comments of pull request #%d failed: %w", pr.Number, err)
			}

			if len(pr.IssueComments) == 0 {
				continue
			}

			comments := make([]*issueCommentModel, 0, len(pr.IssueComments))
			for i, c := range pr.IssueComments {
				comments = append(comments, &issueCommentModel{
					Owner:             snap.Owner,
					Repository:        snap.Repository,
					PullRequestNumber: pr.Number,
					Position:          i,
					Author:            c.Author,
					Body:              c.Body,
				})
			}

			if err := tx.CreateInBatches(comments, sqliteBatchSize).Error; err != nil {
				return fmt.Errorf("storing comments of pull request #%d failed: %w", pr.Number, err)
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	e.logger.Info(
		"exported pull requests",
		logfields.Event("sqlite_export_finished"),
		logfields.RepositoryOwner(snap.Owner),
		logfields.Repository(snap.Repository),
		zap.Int("pull_requests", len(models)),
	)

	return nil
}

func (e *SQLiteExporter) Close() error {
	sqlDB, err := e.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}
