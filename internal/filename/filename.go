// Package filename reads capture details out of scanner-generated file names.
package filename

import (
	"path/filepath"
	"regexp"
	"time"
)

// CamScanner names exports "CamScanner 14-07-2023 09:41.pdf"; some exports
// replace the colon with "." or "h" and append suffixes such as "_hnOCR".
var reCamScanner = regexp.MustCompile(`(?i)^camscanner[ _-](\d{2})-(\d{2})-(\d{4})[ _-](\d{2})[:.h](\d{2})`)

// ScanInfo holds what the file name says about the scan. Empty fields were not found.
type ScanInfo struct {
	Date string // DD/MM/YYYY
	Time string // HH:MM
}

// Found reports whether the file name carried scan details.
func (s ScanInfo) Found() bool {
	return s.Date != "" || s.Time != ""
}

// Parse extracts the scan date and time from a CamScanner file name. Paths are
// reduced to their base name. A name that does not follow the convention, or
// carries an impossible date or time, yields an empty ScanInfo.
func Parse(name string) ScanInfo {
	m := reCamScanner.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return ScanInfo{}
	}

	day, month, year, hour, minute := m[1], m[2], m[3], m[4], m[5]

	d, err := time.Parse("02/01/2006", day+"/"+month+"/"+year)
	if err != nil {
		return ScanInfo{}
	}
	t, err := time.Parse("15:04", hour+":"+minute)
	if err != nil {
		return ScanInfo{}
	}

	return ScanInfo{
		Date: d.Format("02/01/2006"),
		Time: t.Format("15:04"),
	}
}
