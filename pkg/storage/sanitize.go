// Package storage persists the archive tree: sanitized folder names,
// atomic JSON snapshots, project binaries, images, and the rename pass
// that fixes names resolved after their files were written.
package storage

import (
	"regexp"
	"strings"
)

// Characters Windows forbids in file names, replaced by visually
// equivalent Unicode homoglyphs so titles survive legibly.
var homoglyphs = strings.NewReplacer(
	"<", "＜",
	">", "＞",
	":", "∶",
	`"`, "＂",
	"/", "∕",
	`\`, "⧵",
	"|", "︱",
	"?", "？",
	"*", "＊",
)

// Device names DOS reserved and Windows still refuses.
var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// Sanitize makes one path segment safe on every filesystem the archive
// might land on: forbidden characters become homoglyphs, control
// characters are stripped, and reserved device names or a trailing dot
// or space get a trailing underscore.
func Sanitize(segment string) string {
	segment = homoglyphs.Replace(segment)

	var sb strings.Builder
	sb.Grow(len(segment))
	for _, r := range segment {
		if r < 0x20 || r == 0x7f {
			continue
		}
		sb.WriteRune(r)
	}
	segment = sb.String()

	stem := segment
	if dot := strings.IndexByte(stem, '.'); dot >= 0 {
		stem = stem[:dot]
	}
	if reservedNames[strings.ToUpper(stem)] {
		segment += "_"
	}
	if strings.HasSuffix(segment, ".") || strings.HasSuffix(segment, " ") {
		segment += "_"
	}
	return segment
}

// segmentPattern splits "<name> {id}" folder and file segments; the id
// suffix is optional, and file segments may carry an extension after it.
var segmentPattern = regexp.MustCompile(`^(.*?)(?: \{(\d+)\})?(\.[A-Za-z0-9]+)?$`)

// ParseSegment splits a path segment into its name, numeric id (0 when
// absent), and extension.
func ParseSegment(segment string) (name string, id int64, ext string) {
	match := segmentPattern.FindStringSubmatch(segment)
	if match == nil {
		return segment, 0, ""
	}
	name = match[1]
	id = parseID(match[2])
	ext = match[3]
	return name, id, ext
}

func parseID(s string) int64 {
	var id int64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		id = id*10 + int64(r-'0')
	}
	return id
}
