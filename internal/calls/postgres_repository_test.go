package calls

import (
	"context"
	"errors"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var testTime = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

func newPgxMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func callRowColumns() []string {
	return []string{
		"id", "referral_id", "patient_name", "patient_phone", "direction",
		"status", "outcome", "provider_call_sid", "started_at", "ended_at",
		"duration_seconds", "summary", "created_at", "updated_at",
	}
}

func callRow() *pgxmock.Rows {
	return pgxmock.NewRows(callRowColumns()).AddRow(
		"call-1", "ref-1", "Parth Joshi", "+15551234567", DirectionOutbound,
		StatusCompleted, OutcomeRescheduled, "CA100", nil, nil,
		95, "", testTime, testTime,
	)
}

func TestPostgresCreateCallLog(t *testing.T) {
	mock := newPgxMock(t)
	repo := newPostgresRepositoryWithQuerier(mock)

	mock.ExpectQuery("INSERT INTO call_logs").
		WithArgs(pgxmock.AnyArg(), "ref-1", "Parth Joshi", "+15551234567",
			DirectionOutbound, StatusPending, Outcome(""), "CA100",
			pgxmock.AnyArg(), pgxmock.AnyArg(), 0, "").
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).
			AddRow(testTime, testTime))

	log, err := repo.Create(context.Background(), &CallLog{
		ReferralID:      "ref-1",
		PatientName:     "Parth Joshi",
		PatientPhone:    "+15551234567",
		ProviderCallSID: "CA100",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if log.ID == "" || log.Status != StatusPending {
		t.Fatalf("unexpected log: %+v", log)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresGetByProviderSID(t *testing.T) {
	mock := newPgxMock(t)
	repo := newPostgresRepositoryWithQuerier(mock)

	mock.ExpectQuery("SELECT (.+) FROM call_logs").
		WithArgs("CA100").
		WillReturnRows(callRow())

	log, err := repo.GetByProviderSID(context.Background(), "CA100")
	if err != nil {
		t.Fatalf("get by sid: %v", err)
	}
	if log.Outcome != OutcomeRescheduled || log.DurationSeconds != 95 {
		t.Fatalf("unexpected log: %+v", log)
	}
}

func TestPostgresGetByProviderSIDNotFound(t *testing.T) {
	mock := newPgxMock(t)
	repo := newPostgresRepositoryWithQuerier(mock)

	mock.ExpectQuery("SELECT (.+) FROM call_logs").
		WithArgs("CA999").
		WillReturnError(pgx.ErrNoRows)

	if _, err := repo.GetByProviderSID(context.Background(), "CA999"); !errors.Is(err, ErrCallNotFound) {
		t.Fatalf("expected ErrCallNotFound, got %v", err)
	}
}

func TestPostgresRecordOutcome(t *testing.T) {
	mock := newPgxMock(t)
	repo := newPostgresRepositoryWithQuerier(mock)

	mock.ExpectExec("UPDATE call_logs").
		WithArgs("CA100", StatusCompleted, OutcomeRescheduled, 95).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.RecordOutcome(context.Background(), "CA100", StatusCompleted, OutcomeRescheduled, 95)
	if err != nil {
		t.Fatalf("record outcome: %v", err)
	}
}

func TestPostgresRecordOutcomeUnknownCall(t *testing.T) {
	mock := newPgxMock(t)
	repo := newPostgresRepositoryWithQuerier(mock)

	mock.ExpectExec("UPDATE call_logs").
		WithArgs("CA999", StatusCompleted, OutcomeFailed, 0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.RecordOutcome(context.Background(), "CA999", StatusCompleted, OutcomeFailed, 0)
	if !errors.Is(err, ErrCallNotFound) {
		t.Fatalf("expected ErrCallNotFound, got %v", err)
	}
}

func TestPostgresSetSummary(t *testing.T) {
	mock := newPgxMock(t)
	repo := newPostgresRepositoryWithQuerier(mock)

	mock.ExpectExec("UPDATE call_logs").
		WithArgs("CA100", "Patient agreed to Feb 7.").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := repo.SetSummary(context.Background(), "CA100", "Patient agreed to Feb 7."); err != nil {
		t.Fatalf("set summary: %v", err)
	}
}

func TestPostgresListRecent(t *testing.T) {
	mock := newPgxMock(t)
	repo := newPostgresRepositoryWithQuerier(mock)

	mock.ExpectQuery("SELECT (.+) FROM call_logs").
		WillReturnRows(callRow())

	logs, err := repo.ListRecent(context.Background(), 25)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(logs) != 1 || logs[0].ID != "call-1" {
		t.Fatalf("unexpected listing: %+v", logs)
	}
}
