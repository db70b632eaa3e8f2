package parser

import (
	"regexp"
	"strings"
	"unicode"
)

// RequirementsHeading opens the section that carries delta buckets.
const RequirementsHeading = "## Requirements"

// Inline markers used inside topic chunks.
const (
	BeforeMarker = "**Before:**"
	AfterMarker  = "**After:**"
	ReasonMarker = "**Reason:**"
)

// Bucket names a delta operation bucket under `## Requirements`.
type Bucket string

// Delta buckets in the order they are applied.
const (
	BucketRemoved  Bucket = "REMOVED"
	BucketModified Bucket = "MODIFIED"
	BucketAdded    Bucket = "ADDED"
)

// Heading returns the `### <NAME>` heading text for the bucket.
func (b Bucket) Heading() string {
	return "### " + string(b)
}

var (
	topicSplitPattern = regexp.MustCompile(`(?m)^####\s+`)

	bucketHeadingPatterns = map[Bucket]*regexp.Regexp{
		BucketAdded:    regexp.MustCompile(`(?m)^###\s+ADDED\s*\n?`),
		BucketModified: regexp.MustCompile(`(?m)^###\s+MODIFIED\s*\n?`),
		BucketRemoved:  regexp.MustCompile(`(?m)^###\s+REMOVED\s*\n?`),
	}
)

// Buckets holds the raw text of each delta bucket including its heading line.
// Absent buckets are empty strings.
type Buckets struct {
	Added    string
	Modified string
	Removed  string
}

// Empty reports whether no bucket was found.
func (b Buckets) Empty() bool {
	return b.Added == "" && b.Modified == "" && b.Removed == ""
}

// Get returns the raw text for the named bucket.
func (b Buckets) Get(name Bucket) string {
	switch name {
	case BucketAdded:
		return b.Added
	case BucketModified:
		return b.Modified
	case BucketRemoved:
		return b.Removed
	default:
		return ""
	}
}

// RequirementsSection returns the body slice starting at `## Requirements`
// and ending just after the newline that precedes the next `## ` heading, or
// at end of text. Deeper headings do not end the section.
func RequirementsSection(body string) (string, bool) {
	start := strings.Index(body, RequirementsHeading)
	if start == -1 {
		return "", false
	}

	contentStart := start + len(RequirementsHeading)
	next := strings.Index(body[contentStart:], "\n## ")
	if next == -1 {
		return body[start:], true
	}
	return body[start : contentStart+next+1], true
}

// ExtractBuckets slices a delta body into its buckets. The second result is
// false when the body has no `## Requirements` section.
func ExtractBuckets(body string) (Buckets, bool) {
	section, ok := RequirementsSection(body)
	if !ok {
		return Buckets{}, false
	}

	return Buckets{
		Added:    sliceBucket(section, BucketAdded),
		Modified: sliceBucket(section, BucketModified),
		Removed:  sliceBucket(section, BucketRemoved),
	}, true
}

// sliceBucket cuts the named bucket from its heading to the nearest following
// heading of another bucket, or to the end of the section.
func sliceBucket(section string, name Bucket) string {
	start := strings.Index(section, name.Heading())
	if start == -1 {
		return ""
	}

	end := len(section)
	for _, other := range []Bucket{BucketAdded, BucketModified, BucketRemoved} {
		if other == name {
			continue
		}
		idx := strings.Index(section[start+1:], other.Heading())
		if idx == -1 {
			continue
		}
		if pos := start + 1 + idx; pos < end {
			end = pos
		}
	}

	return strings.TrimRightFunc(section[start:end], unicode.IsSpace) + "\n"
}

// Topic is one `#### <Name>` entry inside a bucket.
type Topic struct {
	// Name is the heading text after `#### `, trimmed.
	Name string

	// Content is everything after the heading line, trimmed.
	Content string

	// Raw is the whole trimmed chunk, heading text included.
	Raw string
}

// Topics splits a bucket into its topic chunks. The bucket heading line is
// stripped first. Text before the first `#### ` heading forms a chunk of its
// own, as does every heading.
func Topics(bucketText string, name Bucket) []Topic {
	if bucketText == "" {
		return nil
	}

	body := bucketText
	if re, ok := bucketHeadingPatterns[name]; ok {
		if loc := re.FindStringIndex(body); loc != nil {
			body = body[:loc[0]] + body[loc[1]:]
		}
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}

	var topics []Topic
	for _, chunk := range topicSplitPattern.Split(body, -1) {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		topics = append(topics, parseTopic(chunk))
	}
	return topics
}

func parseTopic(chunk string) Topic {
	name, rest, _ := strings.Cut(chunk, "\n")
	return Topic{
		Name:    strings.TrimSpace(name),
		Content: strings.TrimSpace(rest),
		Raw:     chunk,
	}
}

// SplitBeforeAfter extracts the trimmed Before and After blocks of a MODIFIED
// topic. ok is false unless a Before marker appears and an After marker follows
// it. Either block may still be empty.
func SplitBeforeAfter(raw string) (before, after string, ok bool) {
	beforeIdx := strings.Index(raw, BeforeMarker)
	afterIdx := strings.Index(raw, AfterMarker)
	if beforeIdx == -1 || afterIdx == -1 || afterIdx < beforeIdx {
		return "", "", false
	}

	// The markers can share their `**` fence when written back to back.
	if start := beforeIdx + len(BeforeMarker); start < afterIdx {
		before = strings.TrimSpace(raw[start:afterIdx])
	}
	after = strings.TrimSpace(raw[afterIdx+len(AfterMarker):])
	return before, after, true
}

// RemovableBlock returns the part of a REMOVED topic's content that is
// deleted from the canonical document: everything before an optional
// Reason marker, trimmed.
func RemovableBlock(content string) string {
	if idx := strings.Index(content, ReasonMarker); idx != -1 {
		content = content[:idx]
	}
	return strings.TrimSpace(content)
}
