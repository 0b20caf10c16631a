package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/ems-dashboard/backend/internal/models"
)

var timelineHeader = []string{"timestamp", "latitude", "longitude", "source", "accuracy", "city", "region"}

// WriteTimelineCSV renders samples in the order given. Samples are expected to
// be redacted already; missing coordinates or address fields become empty cells.
func WriteTimelineCSV(w io.Writer, samples []models.LocationSample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(timelineHeader); err != nil {
		return err
	}

	for _, s := range samples {
		var lat, lng, city, region string
		if s.Coordinates != nil {
			lat = strconv.FormatFloat(s.Coordinates.Latitude, 'f', -1, 64)
			lng = strconv.FormatFloat(s.Coordinates.Longitude, 'f', -1, 64)
		}
		if s.Address != nil {
			city = s.Address.City
			region = s.Address.Region
		}
		row := []string{
			s.Timestamp.UTC().Format(time.RFC3339),
			lat,
			lng,
			s.Source,
			s.Accuracy,
			city,
			region,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// TimelineFilename is the attachment name used for exports.
func TimelineFilename(subjectName string, start, end time.Time) string {
	name := subjectName
	if name == "" {
		name = "subject"
	}
	return "location-" + sanitize(name) + "-" + start.UTC().Format("2006-01-02") + "-" + end.UTC().Format("2006-01-02") + ".csv"
}

func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		case r == ' ':
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "subject"
	}
	return string(out)
}
