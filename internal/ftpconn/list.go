package ftpconn

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Entry represents a file or directory entry from a LIST command.
type Entry struct {
	Name   string
	Type   string // "file", "dir", "link" or "unknown"
	Size   int64
	Target string // For symlinks, the target path (empty for files/dirs)
	Raw    string // The raw line from the LIST command

	// Perm is the permission column as the server printed it
	// ("drwxr-xr-x", "644"); empty when the format has none.
	Perm string
	Mode os.FileMode

	Owner string
	Group string

	// ModTime is zero when the listing carries no usable timestamp.
	ModTime time.Time
}

// List returns the entries of the directory at path using LIST.
// The listing is read completely before List returns; on any failure no
// partial result is returned. The "." and ".." entries and "total N"
// summary lines are skipped.
//
// The parser supports multiple directory listing formats:
//
//   - Unix-style (9-field): perms links owner group size month day time/year name
//   - Unix-style (8-field): perms links owner size month day time/year name (no group)
//   - Unix-style (numeric): 644 links owner group size month day time/year name
//   - DOS/Windows: MM-DD-YY HH:MMAM/PM size|<DIR> filename
//   - EPLF: +facts\tname or +facts name
func (c *Client) List(path string) ([]*Entry, error) {
	if err := c.Type("A"); err != nil {
		return nil, err
	}

	args := []string{}
	if path != "" {
		args = append(args, path)
	}

	dataConn, err := c.cmdDataConn("LIST", args...)
	if err != nil {
		return nil, err
	}

	var entries []*Entry
	scanner := bufio.NewScanner(dataConn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		entry := parseListLine(scanner.Text(), c.parsers)
		if entry == nil || entry.Name == "." || entry.Name == ".." {
			continue
		}
		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		_ = c.finishDataConn(dataConn)
		return nil, fmt.Errorf("failed to read directory listing: %w", err)
	}

	if err := c.finishDataConn(dataConn); err != nil {
		return nil, err
	}

	return entries, nil
}

// ListingParser is an interface for parsing directory listing entries.
type ListingParser interface {
	Parse(line string) (*Entry, bool)
}

// UnixParser parses Unix-style directory entries.
type UnixParser struct {
	// Now anchors year inference for "Mon DD HH:MM" timestamps.
	// Defaults to time.Now.
	Now func() time.Time
}

func (p *UnixParser) Parse(line string) (*Entry, bool) {
	now := time.Now()
	if p.Now != nil {
		now = p.Now()
	}
	entry := &Entry{Raw: line}
	if parseUnixEntry(entry, line, now) {
		return entry, true
	}
	return nil, false
}

// DOSParser parses DOS/Windows-style directory entries.
type DOSParser struct{}

func (p *DOSParser) Parse(line string) (*Entry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 4 || !isDOSDate(fields[0]) {
		return nil, false
	}
	entry := &Entry{Raw: line}
	if parseDOSEntry(entry, line) {
		return entry, true
	}
	return nil, false
}

// EPLFParser parses EPLF entries.
type EPLFParser struct{}

func (p *EPLFParser) Parse(line string) (*Entry, bool) {
	if !strings.HasPrefix(line, "+") {
		return nil, false
	}
	entry := &Entry{Raw: line}
	if parseEPLFEntry(entry, line) {
		return entry, true
	}
	return nil, false
}

// parseListLine parses a single line using the registered parsers. Lines no
// parser understands are returned with Type "unknown"; blank lines and
// "total N" summaries yield nil.
func parseListLine(line string, parsers []ListingParser) *Entry {
	trimmed := strings.TrimRight(line, "\r")
	if strings.TrimSpace(trimmed) == "" || isTotalLine(trimmed) {
		return nil
	}

	for _, parser := range parsers {
		if entry, ok := parser.Parse(trimmed); ok {
			return entry
		}
	}

	return &Entry{
		Raw:  line,
		Name: strings.TrimSpace(trimmed),
		Type: "unknown",
	}
}

func isTotalLine(line string) bool {
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[0] != "total" {
		return false
	}
	_, err := strconv.ParseUint(fields[1], 10, 64)
	return err == nil
}

// splitFields returns the first n whitespace-separated fields of line and
// the remainder with its internal spacing intact. ok is false when line has
// fewer than n+1 fields.
func splitFields(line string, n int) (fields []string, rest string, ok bool) {
	rest = line
	for range n {
		rest = strings.TrimLeft(rest, " \t")
		idx := strings.IndexAny(rest, " \t")
		if idx <= 0 {
			return nil, "", false
		}
		fields = append(fields, rest[:idx])
		rest = rest[idx:]
	}
	rest = strings.TrimLeft(rest, " \t")
	if rest == "" {
		return nil, "", false
	}
	return fields, rest, true
}

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

func isMonth(s string) bool {
	_, ok := months[strings.ToLower(s)]
	return ok
}

func isSymbolicPerm(perms string) bool {
	if len(perms) < 10 {
		return false
	}
	return strings.ContainsRune("-dlbcps", rune(perms[0]))
}

func isNumericPerm(perms string) bool {
	if len(perms) < 3 || len(perms) > 4 {
		return false
	}
	for _, ch := range perms {
		if ch < '0' || ch > '7' {
			return false
		}
	}
	return true
}

// parseUnixEntry parses a Unix-style directory entry.
// Handles both 9-field and 8-field formats, numeric and symbolic permissions.
// The name keeps its internal spacing.
func parseUnixEntry(entry *Entry, line string, now time.Time) bool {
	head, _, ok := splitFields(line, 1)
	if !ok {
		return false
	}
	perms := head[0]

	symbolic := isSymbolicPerm(perms)
	if !symbolic && !isNumericPerm(perms) {
		return false
	}

	// 9-field: perms links owner group size month day time/year name
	// 8-field: perms links owner size month day time/year name
	var name, owner, group, sizeF string
	var dateF []string
	if f, rest, ok := splitFields(line, 8); ok && isMonth(f[5]) && isSize(f[4]) {
		name, owner, group, sizeF, dateF = rest, f[2], f[3], f[4], f[5:8]
	} else if f, rest, ok := splitFields(line, 7); ok && isMonth(f[4]) && isSize(f[3]) {
		name, owner, sizeF, dateF = rest, f[2], f[3], f[4:7]
	} else {
		return false
	}

	size, err := parseSize(sizeF)
	if err != nil {
		return false
	}

	entry.Perm = perms
	entry.Mode = ParseMode(perms)
	entry.Owner = owner
	entry.Group = group
	entry.Size = size
	entry.ModTime = parseUnixTime(dateF[0], dateF[1], dateF[2], now)

	switch {
	case entry.Mode&os.ModeDir != 0:
		entry.Type = "dir"
	case entry.Mode&os.ModeSymlink != 0:
		entry.Type = "link"
	default:
		entry.Type = "file"
	}

	if entry.Type == "link" {
		if before, after, ok := strings.Cut(name, " -> "); ok {
			entry.Name = before
			entry.Target = after
		} else {
			entry.Name = name
		}
	} else {
		entry.Name = name
	}

	return entry.Name != ""
}

func isSize(s string) bool {
	_, err := parseSize(s)
	return err == nil
}

// parseUnixTime converts the three date columns of a Unix listing into a
// UTC time. "Mon DD HH:MM" carries no year; it is taken as the most recent
// such date, so a date more than a day in the future of now belongs to the
// previous year. An unparsable date yields the zero time.
func parseUnixTime(month, day, timeOrYear string, now time.Time) time.Time {
	m, ok := months[strings.ToLower(month)]
	if !ok {
		return time.Time{}
	}
	d, err := strconv.Atoi(day)
	if err != nil || d < 1 || d > 31 {
		return time.Time{}
	}

	if hh, mm, ok := strings.Cut(timeOrYear, ":"); ok {
		hour, err1 := strconv.Atoi(hh)
		minute, err2 := strconv.Atoi(mm)
		if err1 != nil || err2 != nil || hour > 23 || minute > 59 {
			return time.Time{}
		}
		now = now.UTC()
		t := time.Date(now.Year(), m, d, hour, minute, 0, 0, time.UTC)
		if t.After(now.Add(24 * time.Hour)) {
			t = t.AddDate(-1, 0, 0)
		}
		return t
	}

	year, err := strconv.Atoi(timeOrYear)
	if err != nil || year < 1900 {
		return time.Time{}
	}
	return time.Date(year, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseMode converts a permission column into an os.FileMode. Symbolic
// strings ("drwxr-sr-t") map their type character and special bits; octal
// strings ("755") map to permission bits only. Unknown input yields 0.
func ParseMode(perms string) os.FileMode {
	if isNumericPerm(perms) {
		v, err := strconv.ParseUint(perms, 8, 32)
		if err != nil {
			return 0
		}
		mode := os.FileMode(v) & os.ModePerm
		if v&0o4000 != 0 {
			mode |= os.ModeSetuid
		}
		if v&0o2000 != 0 {
			mode |= os.ModeSetgid
		}
		if v&0o1000 != 0 {
			mode |= os.ModeSticky
		}
		return mode
	}

	if len(perms) < 10 {
		return 0
	}

	var mode os.FileMode
	switch perms[0] {
	case 'd':
		mode |= os.ModeDir
	case 'l':
		mode |= os.ModeSymlink
	case 'b':
		mode |= os.ModeDevice
	case 'c':
		mode |= os.ModeDevice | os.ModeCharDevice
	case 'p':
		mode |= os.ModeNamedPipe
	case 's':
		mode |= os.ModeSocket
	case '-':
	default:
		return 0
	}

	bits := perms[1:10]
	for i, ch := range bits {
		shift := uint(8 - i)
		switch ch {
		case 'r', 'w', 'x':
			mode |= 1 << shift
		case 's':
			mode |= 1 << shift
			mode |= specialBit(i)
		case 't':
			mode |= 1 << shift
			mode |= os.ModeSticky
		case 'S':
			mode |= specialBit(i)
		case 'T':
			mode |= os.ModeSticky
		}
	}

	return mode
}

// specialBit returns the setuid/setgid bit for an execute position of the
// rwx triplets.
func specialBit(pos int) os.FileMode {
	switch pos {
	case 2:
		return os.ModeSetuid
	case 5:
		return os.ModeSetgid
	}
	return 0
}

// parseEPLFEntry parses an EPLF (Easily Parsed LIST Format) entry.
// Format: +facts\tname or +facts name
// Facts are comma-separated: "/" directory, "r" retrievable, "s" size,
// "m" mtime in Unix seconds, "up" octal permissions.
// Example: "+i8388621.48594,m825718503,r,s280,\tdjb.html"
func parseEPLFEntry(entry *Entry, line string) bool {
	line = line[1:]

	idx := strings.IndexAny(line, "\t ")
	if idx == -1 {
		return false
	}
	facts := line[:idx]
	name := strings.TrimLeft(line[idx+1:], " \t")
	if name == "" {
		return false
	}

	entry.Name = name
	entry.Type = "file"

	for fact := range strings.SplitSeq(facts, ",") {
		if fact == "" {
			continue
		}

		switch {
		case fact == "/":
			entry.Type = "dir"
			entry.Mode |= os.ModeDir
		case fact[0] == 's':
			if size, err := parseSize(fact[1:]); err == nil {
				entry.Size = size
			}
		case fact[0] == 'm':
			if secs, err := strconv.ParseInt(fact[1:], 10, 64); err == nil {
				entry.ModTime = time.Unix(secs, 0).UTC()
			}
		case strings.HasPrefix(fact, "up"):
			if isNumericPerm(fact[2:]) {
				entry.Perm = fact[2:]
				entry.Mode |= ParseMode(fact[2:])
			}
		}
	}

	return true
}

// isDOSDate checks if a string looks like a DOS/Windows date format.
// Common formats: MM-DD-YY, MM-DD-YYYY, MM/DD/YY, MM/DD/YYYY
func isDOSDate(s string) bool {
	var parts []string
	if strings.Contains(s, "-") {
		parts = strings.Split(s, "-")
	} else if strings.Contains(s, "/") {
		parts = strings.Split(s, "/")
	} else {
		return false
	}

	if len(parts) != 3 {
		return false
	}

	for i, part := range parts {
		if len(part) < 1 || len(part) > 4 {
			return false
		}
		if i == 2 && len(part) != 2 && len(part) != 4 {
			return false
		}
		if i < 2 && len(part) > 2 {
			return false
		}
		for _, ch := range part {
			if ch < '0' || ch > '9' {
				return false
			}
		}
	}
	return true
}

var dosLayouts = []string{
	"01-02-06 03:04PM",
	"01-02-2006 03:04PM",
	"01-02-06 15:04",
	"01-02-2006 15:04",
}

// parseDOSEntry parses a DOS/Windows-style directory entry.
// Example: "12-14-23  12:22PM           1037794 large-document.pdf"
// Example: "09-24-24  10:30AM       <DIR>          logger"
func parseDOSEntry(entry *Entry, line string) bool {
	fields, name, ok := splitFields(line, 3)
	if !ok {
		return false
	}

	date := strings.ReplaceAll(fields[0], "/", "-")
	for _, layout := range dosLayouts {
		if t, err := time.Parse(layout, date+" "+fields[1]); err == nil {
			entry.ModTime = t.UTC()
			break
		}
	}

	entry.Name = name

	if strings.EqualFold(fields[2], "<DIR>") {
		entry.Type = "dir"
		entry.Mode = os.ModeDir
		return true
	}

	size, err := parseSize(fields[2])
	if err != nil {
		return false
	}

	entry.Type = "file"
	entry.Size = size
	return true
}

// parseSize parses a size string from a directory listing.
func parseSize(sizeStr string) (int64, error) {
	return strconv.ParseInt(sizeStr, 10, 64)
}
