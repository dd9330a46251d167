package database

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/healthbridge/bridge/internal/apierror"
	"github.com/healthbridge/bridge/model"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wacul/ptr"
)

var appointmentCols = []string{
	"id", "appointment_id", "patient_id", "provider_id", "appointment_date", "duration",
	"type", "status", "reason", "notes", "created_at", "updated_at",
}

func TestCreateAppointment(t *testing.T) {
	ds, mock := newMockDatasource(t)
	date := time.Date(2024, 5, 10, 14, 0, 0, 0, time.UTC)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO bridge.appointments").
		WithArgs(sqlmock.AnyArg(), "patient-1", "provider-1", date, 30, "VIDEO", "SCHEDULED", "checkup", nil).
		WillReturnRows(sqlmock.NewRows(appointmentCols).
			AddRow(1, "appt_1", "patient-1", "provider-1", date, 30, "VIDEO", "SCHEDULED", "checkup", nil, now, now))

	appt, err := ds.CreateAppointment(context.Background(), &model.Appointment{
		PatientID:       "patient-1",
		ProviderID:      "provider-1",
		AppointmentDate: date,
		Duration:        30,
		Type:            "VIDEO",
		Status:          "SCHEDULED",
		Reason:          "checkup",
	})
	require.NoError(t, err)
	assert.Equal(t, "appt_1", appt.AppointmentID)
	assert.Equal(t, "checkup", appt.Reason)
	assert.Empty(t, appt.Notes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAppointment_SlotTaken(t *testing.T) {
	ds, mock := newMockDatasource(t)

	mock.ExpectQuery("INSERT INTO bridge.appointments").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := ds.CreateAppointment(context.Background(), &model.Appointment{PatientID: "p", ProviderID: "d"})
	assert.True(t, apierror.HasCode(err, apierror.ErrConflict))
}

func TestFindAppointment(t *testing.T) {
	ds, mock := newMockDatasource(t)
	date := time.Date(2024, 5, 10, 14, 0, 0, 0, time.UTC)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE patient_id = $1 AND provider_id = $2 AND appointment_date = $3")).
		WithArgs("patient-1", "provider-1", date).
		WillReturnRows(sqlmock.NewRows(appointmentCols).
			AddRow(1, "appt_1", "patient-1", "provider-1", date, 45, "IN_PERSON", "SCHEDULED", nil, nil, now, now))

	appt, err := ds.FindAppointment(context.Background(), "patient-1", "provider-1", date)
	require.NoError(t, err)
	require.NotNil(t, appt)
	assert.Equal(t, 45, appt.Duration)

	mock.ExpectQuery("SELECT").WillReturnError(sql.ErrNoRows)
	appt, err = ds.FindAppointment(context.Background(), "patient-1", "provider-2", date)
	assert.NoError(t, err)
	assert.Nil(t, appt)
}

func TestUpdateAppointment(t *testing.T) {
	ds, mock := newMockDatasource(t)
	date := time.Date(2024, 5, 10, 14, 0, 0, 0, time.UTC)
	now := time.Now()
	duration := 60

	mock.ExpectQuery(regexp.QuoteMeta("WHERE appointment_id = $1 AND (patient_id = $2 OR provider_id = $2)")).
		WithArgs("appt_1", "patient-1", nil, nil, duration, nil, "CONFIRMED", nil, nil).
		WillReturnRows(sqlmock.NewRows(appointmentCols).
			AddRow(1, "appt_1", "patient-1", "provider-1", date, 60, "VIDEO", "CONFIRMED", nil, nil, now, now))

	appt, err := ds.UpdateAppointment(context.Background(), "patient-1", "appt_1", &model.AppointmentPayload{
		Duration: &duration,
		Status:   ptr.String("CONFIRMED"),
	})
	require.NoError(t, err)
	assert.Equal(t, "CONFIRMED", appt.Status)
	assert.Equal(t, 60, appt.Duration)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAppointment_NotOwned(t *testing.T) {
	ds, mock := newMockDatasource(t)

	mock.ExpectQuery("UPDATE bridge.appointments").WillReturnError(sql.ErrNoRows)

	_, err := ds.UpdateAppointment(context.Background(), "intruder", "appt_1", &model.AppointmentPayload{})
	assert.True(t, apierror.HasCode(err, apierror.ErrNotFound))
}

func TestDeleteAppointment(t *testing.T) {
	ds, mock := newMockDatasource(t)

	mock.ExpectExec("DELETE FROM bridge.appointments").
		WithArgs("appt_1", "patient-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	deleted, err := ds.DeleteAppointment(context.Background(), "patient-1", "appt_1")
	require.NoError(t, err)
	assert.True(t, deleted)

	mock.ExpectExec("DELETE FROM bridge.appointments").
		WithArgs("appt_1", "patient-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	deleted, err = ds.DeleteAppointment(context.Background(), "patient-1", "appt_1")
	require.NoError(t, err)
	assert.False(t, deleted)

	assert.NoError(t, mock.ExpectationsWereMet())
}
