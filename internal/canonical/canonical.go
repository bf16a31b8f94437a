// Package canonical reduces raw (application, document title) pairs to the
// stable keys used to group activity into time entries. The rules run as a
// fixed, ordered pipeline; later steps assume earlier normalization already
// happened, so the order must not change.
package canonical

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Family tags the application that produced a document title. Each family
// gets its own normalization steps before the shared stages run.
type Family int

const (
	FamilyGeneric Family = iota
	FamilyViewer         // document viewers (Preview and friends)
	FamilyWordProcessor  // Microsoft Word and friends
)

// FamilyOf classifies an application name.
func FamilyOf(activity string) Family {
	lower := strings.ToLower(activity)
	switch {
	case strings.Contains(lower, "preview"):
		return FamilyViewer
	case strings.Contains(lower, "microsoft word"):
		return FamilyWordProcessor
	default:
		return FamilyGeneric
	}
}

// A step transforms a title. ok=false signals the title carries no billable
// task identity and the record should be discarded.
type step func(text string) (out string, ok bool)

// Viewer titles carry pagination suffixes that change as the user scrolls.
var (
	viewerPageRe  = regexp.MustCompile(` – Page \d+ of \d+$`)
	viewerPagesRe = regexp.MustCompile(` – \d+ pages$`)
)

func stripPagination(text string) (string, bool) {
	text = viewerPageRe.ReplaceAllString(text, "")
	text = viewerPagesRe.ReplaceAllString(text, "")
	return text, true
}

// Word decorates titles with mode markers and inconsistent bracket/portal
// forms; the same document shows up under several spellings otherwise.
var (
	readOnlyRe       = regexp.MustCompile(`(?i)\s*-\s*Read-Only$`)
	compatModeRe     = regexp.MustCompile(`(?i)\s+-\s+Compatibility Mode$`)
	bracketSuffixRe  = regexp.MustCompile(`_\[(\d+)\]`)
	portalPrefixRe   = regexp.MustCompile(`^Portal\s*-\s*`)
	multiSpaceRe     = regexp.MustCompile(`\s+`)
	genericDocumentRe = regexp.MustCompile(`^Document\d+$`)
)

func stripReadOnly(text string) (string, bool) {
	return strings.TrimSpace(readOnlyRe.ReplaceAllString(text, "")), true
}

func stripCompatibilityMode(text string) (string, bool) {
	return strings.TrimSpace(compatModeRe.ReplaceAllString(text, "")), true
}

func normalizeBracketSuffix(text string) (string, bool) {
	return bracketSuffixRe.ReplaceAllString(text, "_$1"), true
}

func normalizePortal(text string) (string, bool) {
	if !strings.HasPrefix(text, "Portal") {
		return text, true
	}
	text = portalPrefixRe.ReplaceAllString(text, "Portal ")
	return multiSpaceRe.ReplaceAllString(text, " "), true
}

func dropGenericDocument(text string) (string, bool) {
	if genericDocumentRe.MatchString(text) {
		return "", false
	}
	return text, true
}

// Browsers and badge counters append noise to whatever page is open,
// regardless of the application family.
var browserChromeRes = []*regexp.Regexp{
	regexp.MustCompile(` - Google Chrome – .+$`),
	regexp.MustCompile(` - Google Chrome$`),
	regexp.MustCompile(` - Microsoft\x{200b}? Edge$`),
	regexp.MustCompile(` — Mozilla Firefox$`),
	regexp.MustCompile(` \(\d+ unread\)$`),
}

func stripBrowserChrome(text string) (string, bool) {
	for _, re := range browserChromeRes {
		text = re.ReplaceAllString(text, "")
	}
	return text, true
}

var (
	viewerSteps = []step{stripPagination}
	wordSteps   = []step{
		stripReadOnly,
		stripCompatibilityMode,
		normalizeBracketSuffix,
		normalizePortal,
		dropGenericDocument,
	}
	sharedSteps = []step{stripBrowserChrome}
)

// A filename embedded in the title is the strongest task signal available.
var filenameRe = regexp.MustCompile(`(?i)([-\w\s()\[\]]+\.(?:docx|pdf|xlsx|pptx|csv|md|txt|py|js|html|css))`)

// PDFs opened in a viewer keep the filename at the front of the title; the
// suffix varies with zoom and page state.
var pdfPrefixRe = regexp.MustCompile(`^.*?\.pdf`)

// Key runs the full pipeline and returns the canonical grouping key for a
// raw title, or ok=false when the record should be discarded.
func Key(document, activity string) (string, bool) {
	family := FamilyOf(activity)
	text := document

	var familySteps []step
	switch family {
	case FamilyViewer:
		familySteps = viewerSteps
	case FamilyWordProcessor:
		familySteps = wordSteps
	}
	for _, fn := range familySteps {
		var ok bool
		if text, ok = fn(text); !ok {
			return "", false
		}
	}
	for _, fn := range sharedSteps {
		text, _ = fn(text)
	}

	if m := filenameRe.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	// Viewer PDF override works on the raw title: earlier steps may have
	// rearranged it, but the filename always runs up to the first ".pdf".
	if family == FamilyViewer && strings.Contains(document, ".pdf") {
		if m := pdfPrefixRe.FindString(document); m != "" {
			text = strings.TrimSpace(m)
		}
	}

	text = strings.TrimSpace(text)
	if text == "" || IsVague(text) {
		return "", false
	}
	return text, true
}

// vagueTitles are short generic labels that never identify billable work.
var vagueTitles = map[string]struct{}{
	"No Details": {}, "Paste": {}, "New Tab": {}, "Untitled": {}, "Reminders": {},
	"Calendar": {}, "Microsoft Teams": {}, "Cursor": {}, "ALP Clone": {}, "Coding": {},
	"Notes": {}, "Balloons": {}, "Accept": {}, "Table of Contents": {}, "Change Case": {},
	"Styles": {}, "Text Highlight Color": {}, "Markup Options": {},
	"Open new and recent files": {}, "TV": {}, "Downloads": {}, "Recents": {},
	"Recent": {}, "OneDrive": {}, "Google": {}, "Welcome": {}, "GitHub": {}, "Rules": {},
	"RescueTime": {}, "Copilot": {}, "reMarkable": {}, "Pilot": {},
}

var reminderCountRe = regexp.MustCompile(`^\d+ Reminder$`)

// IsVague reports whether a cleaned title is a non-informative empty-state or
// system label. Titles longer than 25 characters are never vague: the rule
// exists to drop short generic noise, not descriptive work.
func IsVague(title string) bool {
	title = strings.TrimSpace(title)
	if utf8.RuneCountInString(title) > 25 {
		return false
	}
	if _, ok := vagueTitles[title]; ok {
		return true
	}
	if strings.HasPrefix(title, "Search, Suggestions") {
		return true
	}
	return genericDocumentRe.MatchString(title) || reminderCountRe.MatchString(title)
}
