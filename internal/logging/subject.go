package logging

import "strings"

// FormatSubject builds the stage/record/file subject string used in console output.
func FormatSubject(stage, recordID, file string) string {
	stage = strings.TrimSpace(stage)
	recordID = strings.TrimSpace(recordID)
	file = strings.TrimSpace(file)
	parts := make([]string, 0, 3)
	if stage != "" {
		parts = append(parts, strings.ToUpper(stage[:1])+strings.ToLower(stage[1:]))
	}
	if recordID != "" {
		if len(recordID) > 8 {
			recordID = recordID[:8]
		}
		parts = append(parts, "#"+recordID)
	}
	if file != "" {
		parts = append(parts, file)
	}
	return strings.Join(parts, " · ")
}
