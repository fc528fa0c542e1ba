package availability

import (
	"testing"
	"time"

	"tablebook/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func settingsWith(t *testing.T, hours map[string][]string, special map[string]models.SpecialDay) models.TenantSettings {
	t.Helper()
	tenant := models.Tenant{ID: "t1", Config: models.TenantConfig{OpeningHours: hours, SpecialDays: special}}
	require.NoError(t, tenant.Resolve("Europe/Rome"))
	return tenant.Settings
}

func TestWindowsForDate_WeeklyTemplate(t *testing.T) {
	s := settingsWith(t, map[string][]string{"tue": {"19:00-23:00", "12:00-14:30"}}, nil)

	windows, err := WindowsForDate(s, "2030-06-04")
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, 12, windows[0].Start.Hour(), "windows are ordered by start")
	assert.Equal(t, "2030-06-04T19:00:00+02:00", windows[1].Start.Format(time.RFC3339))
	assert.Equal(t, "2030-06-04T23:00:00+02:00", windows[1].End.Format(time.RFC3339))

	windows, err = WindowsForDate(s, "2030-06-09")
	require.NoError(t, err)
	assert.Empty(t, windows, "no template entry for sunday")
}

func TestWindowsForDate_SpecialDays(t *testing.T) {
	s := settingsWith(t,
		map[string][]string{"tue": {"19:00-23:00"}},
		map[string]models.SpecialDay{
			"2030-06-04": {Closed: true},
			"2030-06-11": {Ranges: []string{"18:00-20:00"}},
		})

	windows, err := WindowsForDate(s, "2030-06-04")
	require.NoError(t, err)
	assert.Empty(t, windows)

	windows, err = WindowsForDate(s, "2030-06-11")
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, 18, windows[0].Start.Hour())

	windows, err = WindowsForDate(s, "2030-06-18")
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, 19, windows[0].Start.Hour())
}

func TestWindowsForDate_DropsMalformedRanges(t *testing.T) {
	s := settingsWith(t, map[string][]string{"tue": {"23:00-19:00", "nonsense", "19:00-19:00", "25:00-26:00", "12:00-15:00"}}, nil)

	windows, err := WindowsForDate(s, "2030-06-04")
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, 12, windows[0].Start.Hour())
}

func TestWindowsForDate_InvalidDate(t *testing.T) {
	s := settingsWith(t, nil, nil)
	_, err := WindowsForDate(s, "04/06/2030")
	assert.Error(t, err)
}

func TestInside(t *testing.T) {
	s := settingsWith(t, map[string][]string{"tue": {"19:00-23:00"}}, nil)
	windows, err := WindowsForDate(s, "2030-06-04")
	require.NoError(t, err)

	start := windows[0].Start
	assert.True(t, Inside(windows, start, start.Add(4*time.Hour)))
	assert.False(t, Inside(windows, start.Add(-time.Minute), start.Add(time.Hour)))
	assert.False(t, Inside(windows, start.Add(3*time.Hour), start.Add(5*time.Hour)))
}
