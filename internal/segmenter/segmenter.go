// Package segmenter splits one raw daily dialer transcript into
// ordered call-shaped segments using timestamp-gap and greeting-pattern
// heuristics. It implements the splitting capability contract and is
// deliberately forgiving: unparseable input degrades to a single
// segment instead of failing, so the pipeline always makes progress.
package segmenter

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"call-coach-go/internal/capability"
)

// ErrEmptyTranscript is returned when the input contains no text at
// all. Ingestion validates this earlier; the check here is the
// capability contract's last line of defense.
var ErrEmptyTranscript = errors.New("segmenter: empty transcript")

// minGapSeconds is the timestamp gap that, together with a greeting
// pattern, proposes a new call boundary.
const minGapSeconds = 30

var (
	timestampRe = regexp.MustCompile(`(\d{1,2}:\d{2}(?::\d{2})?)\s*(AM|PM|am|pm)?`)
	speakerRe   = regexp.MustCompile(`(?i)\bspeaker\s*(\d+)\b`)
)

var greetingPhrases = []string{
	"hello",
	"hi, is this",
	"hi is this",
	"hey, is this",
	"am i speaking with",
	"this is ",
	"my name is",
	"calling from",
	"good morning",
	"good afternoon",
}

var voicemailPhrases = []string{
	"you have reached",
	"you've reached",
	"please leave a message",
	"leave a message after",
	"leave your name and number",
	"record your message",
	"at the tone",
	"after the beep",
	"your call has been forwarded",
	"press 1",
	"press one",
	"mailbox",
	"voicemail",
}

// Segmenter is the heuristic splitting capability.
type Segmenter struct{}

// New returns a ready Segmenter.
func New() *Segmenter { return &Segmenter{} }

// line is one source line annotated with everything the boundary
// heuristics need.
type line struct {
	text       string // includes its trailing newline, if any
	tsRaw      string
	tsSeconds  int
	tsOK       bool
	greeting   bool
	voicemail  bool
	speakerNum int // -1 when the line carries no numbered speaker label
}

// Split partitions rawText into ordered segments. Every input byte
// lands in exactly one segment, in source order, so concatenating the
// outputs reproduces the input exactly.
func (s *Segmenter) Split(_ context.Context, rawText string) ([]capability.RawSegment, error) {
	if strings.TrimSpace(rawText) == "" {
		return nil, ErrEmptyTranscript
	}

	lines := annotate(rawText)

	anyTimestamp := false
	for _, ln := range lines {
		if ln.tsOK {
			anyTimestamp = true
			break
		}
	}
	// No parseable timestamps anywhere: emit the whole day as a single
	// segment and let the classifier sort it out by content.
	if !anyTimestamp {
		return []capability.RawSegment{{RawText: rawText}}, nil
	}

	baseSpeaker := -1
	for _, ln := range lines {
		if ln.speakerNum >= 0 {
			baseSpeaker = ln.speakerNum
			break
		}
	}

	var groups [][]line
	var cur []line
	prevTS := -1
	prevSpeaker := -1
	curHasVoicemail := false

	for _, ln := range lines {
		boundary := false
		if len(cur) > 0 {
			switch {
			case ln.tsOK && prevTS >= 0 && ln.tsSeconds-prevTS >= minGapSeconds && ln.greeting:
				boundary = true
			case ln.voicemail && !curHasVoicemail:
				// An IVR or voicemail preamble starts its own short
				// segment; a greeting already mid-voicemail does not
				// split again.
				boundary = true
			case speakerReset(ln.speakerNum, prevSpeaker, baseSpeaker):
				boundary = true
			}
		}
		if boundary {
			groups = append(groups, cur)
			cur = nil
			curHasVoicemail = false
		}
		cur = append(cur, ln)
		if ln.voicemail {
			curHasVoicemail = true
		}
		if ln.tsOK {
			prevTS = ln.tsSeconds
		}
		if ln.speakerNum >= 0 {
			prevSpeaker = ln.speakerNum
		}
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}

	return assemble(groups), nil
}

// speakerReset reports whether the speaker-label numbering restarted:
// the label fell back to the transcript's base value right after a
// label at least two above it. Plain two-party alternation never
// triggers this.
func speakerReset(cur, prev, base int) bool {
	if cur < 0 || prev < 0 || base < 0 {
		return false
	}
	return cur <= base && prev >= base+2
}

func annotate(rawText string) []line {
	parts := strings.SplitAfter(rawText, "\n")
	if n := len(parts); n > 0 && parts[n-1] == "" {
		parts = parts[:n-1]
	}
	out := make([]line, 0, len(parts))
	for _, p := range parts {
		ln := line{text: p, speakerNum: -1}
		lower := strings.ToLower(p)
		if m := timestampRe.FindStringSubmatch(p); m != nil {
			if sec, ok := clockSeconds(m[1], m[2]); ok {
				ln.tsRaw = strings.TrimSpace(m[0])
				ln.tsSeconds = sec
				ln.tsOK = true
			}
		}
		for _, g := range greetingPhrases {
			if strings.Contains(lower, g) {
				ln.greeting = true
				break
			}
		}
		for _, v := range voicemailPhrases {
			if strings.Contains(lower, v) {
				ln.voicemail = true
				break
			}
		}
		if m := speakerRe.FindStringSubmatch(p); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				ln.speakerNum = n
			}
		}
		out = append(out, ln)
	}
	return out
}

func assemble(groups [][]line) []capability.RawSegment {
	segs := make([]capability.RawSegment, 0, len(groups))
	firstTS := make([]int, len(groups))
	for i, g := range groups {
		firstTS[i] = -1
		var b strings.Builder
		ts := ""
		for _, ln := range g {
			b.WriteString(ln.text)
			if ts == "" && ln.tsOK {
				ts = ln.tsRaw
				firstTS[i] = ln.tsSeconds
			}
		}
		segs = append(segs, capability.RawSegment{RawText: b.String(), StartTimestamp: ts})
	}
	// Approximate duration: delta between this segment's first
	// timestamp and the next segment's first timestamp.
	for i := 0; i < len(segs)-1; i++ {
		if firstTS[i] >= 0 && firstTS[i+1] >= 0 && firstTS[i+1] > firstTS[i] {
			d := firstTS[i+1] - firstTS[i]
			segs[i].DurationSeconds = &d
		}
	}
	return segs
}

// clockSeconds converts "HH:MM:SS", "MM:SS", or "H:MM PM" style clock
// text into seconds since midnight.
func clockSeconds(clock, ampm string) (int, bool) {
	fields := strings.Split(clock, ":")
	nums := make([]int, 0, 3)
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return 0, false
		}
		nums = append(nums, n)
	}
	var h, m, sec int
	switch len(nums) {
	case 2:
		if ampm != "" {
			h, m = nums[0], nums[1]
		} else {
			// Bare MM:SS is an offset from the start of the recording.
			m, sec = nums[0], nums[1]
		}
	case 3:
		h, m, sec = nums[0], nums[1], nums[2]
	default:
		return 0, false
	}
	switch strings.ToUpper(ampm) {
	case "PM":
		if h < 12 {
			h += 12
		}
	case "AM":
		if h == 12 {
			h = 0
		}
	}
	if m > 59 || sec > 59 || h > 23 {
		return 0, false
	}
	return h*3600 + m*60 + sec, true
}
