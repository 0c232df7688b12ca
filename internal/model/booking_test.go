package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBookingIsActive(t *testing.T) {
	assert.True(t, Booking{Status: BookingConfirmed}.IsActive())
	assert.True(t, Booking{Status: BookingPending}.IsActive())
	assert.False(t, Booking{Status: BookingCompleted}.IsActive())
	assert.False(t, Booking{Status: BookingCancelled}.IsActive())
	assert.False(t, Booking{Status: "no_show"}.IsActive())
}

func TestBookingWeekday(t *testing.T) {
	tests := []struct {
		name    string
		booking Booking
		want    time.Weekday
		ok      bool
	}{
		{"civil date", Booking{ScheduledDate: "2024-06-04"}, time.Tuesday, true},
		{"server day wins", Booking{ScheduledDate: "2024-06-04", DayOfWeek: "wednesday"}, time.Wednesday, true},
		{"bad server day falls back to date", Booking{ScheduledDate: "2024-06-09", DayOfWeek: "someday"}, time.Sunday, true},
		{"unparsable date", Booking{ScheduledDate: "04.06.2024"}, time.Sunday, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.booking.Weekday()
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestMediaFileIsImage(t *testing.T) {
	assert.True(t, MediaFile{MimeType: "image/png"}.IsImage())
	assert.True(t, MediaFile{FileName: "Banner.JPG"}.IsImage())
	assert.False(t, MediaFile{FileName: "price-list.pdf", MimeType: "application/pdf"}.IsImage())
}
