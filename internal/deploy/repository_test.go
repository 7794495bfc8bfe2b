package deploy

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/rebrick/rebrick/internal/model"
)

var jobColumns = []string{
	"id", "rebuild_id", "wordpress_site_id", "status", "version",
	"deployed_pages", "error_messages", "error_times",
	"created_at", "updated_at", "started_at", "completed_at",
}

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return NewRepository(db), mock
}

func TestRepository_CreateJob(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	job, err := model.NewDeploymentJob("rebuild-1", "site-1")
	if err != nil {
		t.Fatalf("NewDeploymentJob() error = %v", err)
	}

	mock.ExpectExec("INSERT INTO deployment_jobs").
		WithArgs(job.ID(), "rebuild-1", "site-1", "queued", 0,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRepository_SaveJob(t *testing.T) {
	t.Parallel()

	job, err := model.NewDeploymentJob("rebuild-1", "site-1")
	if err != nil {
		t.Fatalf("NewDeploymentJob() error = %v", err)
	}
	if err := job.StartDeployment(); err != nil {
		t.Fatalf("StartDeployment() error = %v", err)
	}
	job.RecordError("publish menu page: HTTP 500")

	testCases := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		wantErr   error
	}{
		{
			name: "updates row",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE deployment_jobs").
					WithArgs(job.ID(), "in_progress", 0, sqlmock.AnyArg(), sqlmock.AnyArg(),
						sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "missing row",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE deployment_jobs").
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery("SELECT EXISTS").
					WithArgs(job.ID()).
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
			},
			wantErr: ErrJobNotFound,
		},
		{
			name: "newer version stored",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE deployment_jobs").
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery("SELECT EXISTS").
					WithArgs(job.ID()).
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
			},
			wantErr: model.ErrConcurrency,
		},
		{
			name: "database error",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE deployment_jobs").
					WillReturnError(sql.ErrConnDone)
			},
			wantErr: sql.ErrConnDone,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			repo, mock := newMockRepo(t)
			tc.setupMock(mock)

			err := repo.SaveJob(context.Background(), job)
			if tc.wantErr == nil && err != nil {
				t.Errorf("SaveJob() error = %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("SaveJob() error = %v, want %v", err, tc.wantErr)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestRepository_GetJob(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	started := created.Add(time.Second)
	completed := created.Add(time.Minute)

	mock.ExpectQuery("SELECT (.+) FROM deployment_jobs").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows(jobColumns).AddRow(
			"job-1", "rebuild-1", "site-1", "completed", 1,
			[]byte(`{"homepage":{"page_type":"homepage","wordpress_page_id":7,"url":"https://wp.example/home","deployed_at":"2026-03-01T12:00:30Z"}}`),
			`{"publish menu page: HTTP 500"}`,
			`{"2026-03-01 12:00:40.5+00"}`,
			created, completed, started, completed,
		))

	job, err := repo.GetJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}

	if job.Status() != model.DeploymentCompleted {
		t.Errorf("Status = %s, want completed", job.Status())
	}
	if job.Outcome() != model.OutcomePartial {
		t.Errorf("Outcome = %s, want partial", job.Outcome())
	}
	page, ok := job.DeployedPage(model.PageHomepage)
	if !ok || page.WordPressPageID != 7 {
		t.Errorf("DeployedPage(homepage) = %+v, %v", page, ok)
	}

	log := job.ErrorLog()
	if len(log) != 1 || !strings.Contains(log[0].Message, "menu") {
		t.Fatalf("ErrorLog = %+v", log)
	}
	wantTime := time.Date(2026, 3, 1, 12, 0, 40, 500_000_000, time.UTC)
	if !log[0].Timestamp.Equal(wantTime) {
		t.Errorf("error time = %v, want %v", log[0].Timestamp, wantTime)
	}
	if d, ok := job.Duration(); !ok || d != time.Minute {
		t.Errorf("Duration = %v, %v", d, ok)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRepository_GetJob_NotFound(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT (.+) FROM deployment_jobs").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetJob(context.Background(), "missing")
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("GetJob() error = %v, want ErrJobNotFound", err)
	}
	if !errors.Is(err, model.ErrEntityNotFound) {
		t.Error("ErrJobNotFound should match model.ErrEntityNotFound")
	}
}

func TestRepository_ListQueuedJobIDs(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT id\\s+FROM deployment_jobs\\s+WHERE status = 'queued'").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a").AddRow("b"))

	ids, err := repo.ListQueuedJobIDs(context.Background(), 5)
	if err != nil {
		t.Fatalf("ListQueuedJobIDs() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("ListQueuedJobIDs() = %v", ids)
	}
}

func TestRepository_GetQueueDepth(t *testing.T) {
	t.Parallel()

	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))

	depth, err := repo.GetQueueDepth(context.Background())
	if err != nil {
		t.Fatalf("GetQueueDepth() error = %v", err)
	}
	if depth != 3 {
		t.Errorf("GetQueueDepth() = %d, want 3", depth)
	}
}

func TestEncodeJobState_TruncatesMessages(t *testing.T) {
	t.Parallel()

	snap := model.DeploymentJobSnapshot{
		ErrorLog: []model.ErrorLogEntry{{
			Timestamp: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			Message:   strings.Repeat("x", 2*maxErrorMessageLen),
		}},
	}

	_, messages, times, err := encodeJobState(snap)
	if err != nil {
		t.Fatalf("encodeJobState() error = %v", err)
	}
	if len(messages[0]) != maxErrorMessageLen {
		t.Errorf("message length = %d, want %d", len(messages[0]), maxErrorMessageLen)
	}
	if times[0] != "2026-03-01T00:00:00Z" {
		t.Errorf("time = %q", times[0])
	}
}

func TestTruncateMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  string
		n    int
		want string
	}{
		{"short", "timeout", 10, "timeout"},
		{"ascii cut", "abcdef", 4, "abcd"},
		{"keeps whole rune", "ab" + "é", 4, "abé"},
		{"backs off split rune", "abc" + "é", 4, "abc"},
		{"backs off three byte rune", "a" + "…", 3, "a"},
		{"invalid bytes replaced", "bad \xff byte", 20, "bad \uFFFD byte"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := truncateMessage(tt.msg, tt.n); got != tt.want {
				t.Errorf("truncateMessage(%q, %d) = %q, want %q", tt.msg, tt.n, got, tt.want)
			}
		})
	}
}

func TestEncodeJobState_TruncatesLocalizedMessages(t *testing.T) {
	t.Parallel()

	snap := model.DeploymentJobSnapshot{
		ErrorLog: []model.ErrorLogEntry{{
			Timestamp: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			Message:   strings.Repeat("a", maxErrorMessageLen-1) + "é… la page n'existe pas",
		}},
	}

	_, messages, _, err := encodeJobState(snap)
	if err != nil {
		t.Fatalf("encodeJobState() error = %v", err)
	}
	if !utf8.ValidString(messages[0]) {
		t.Fatalf("message is not valid UTF-8: %q", messages[0][len(messages[0])-4:])
	}
	if want := strings.Repeat("a", maxErrorMessageLen-1); messages[0] != want {
		t.Errorf("message length = %d, want %d", len(messages[0]), len(want))
	}
}
