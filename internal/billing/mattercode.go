package billing

import "regexp"

// Matter codes are 5-digit tokens. The patterns run in strict priority
// order: the tightly delimited forms first, since they have the least risk
// of matching a fragment of a date or an unrelated numeric run.
var matterCodeRes = []*regexp.Regexp{
	regexp.MustCompile(`\[(\d{5})\]`),             // [12345]
	regexp.MustCompile(`_(\d{5})_`),               // _12345_
	regexp.MustCompile(`_(\d{5})(?:[_\s]|$)`),     // _12345 then underscore/space/end
	regexp.MustCompile(`(?:^|[_\s])(\d{5})_`),     // 12345_ after start/space/underscore
	regexp.MustCompile(`(?:^|\s)(\d{5})(?:\s|$)`), // free-standing 12345
}

// ExtractMatterCode returns the first 5-digit code satisfying the
// highest-priority delimiter pattern, or "" when the description carries
// no code.
func ExtractMatterCode(task string) string {
	if task == "" {
		return ""
	}
	for _, re := range matterCodeRes {
		if m := re.FindStringSubmatch(task); m != nil {
			return m[1]
		}
	}
	return ""
}
