package classify

import (
	"regexp"

	"github.com/scrypster/memento-graph/pkg/types"
)

// cueTable maps a label to the cues that select it. Cues are matched
// case-insensitively as substrings, so Korean stems match any ending.
type cueTable []struct {
	label string
	cues  []string
}

// entryTypeCues is checked in order; the first type with a matching cue wins.
var entryTypeCues = []struct {
	entry types.MemoryEntryType
	cues  []string
}{
	{types.EntryDecision, []string{"decided", "decide to", "decision", "we will go with", "결정", "하기로", "정했"}},
	{types.EntryTask, []string{"todo", "to-do", "need to", "must ", "remember to", "- [ ]", "해야", "할 일", "잊지 말"}},
	{types.EntryPreference, []string{"prefer", "favorite", "favourite", "i like", "i love", "i hate", "좋아하", "싫어하", "선호"}},
	{types.EntryInsight, []string{"realized", "realised", "learned", "learnt", "insight", "lesson", "깨달", "알게 되", "배웠"}},
	{types.EntryEmotion, []string{"i feel", "i felt", "feeling", "기분", "감정", "마음이"}},
	{types.EntryRelationship, []string{"friend", "neighbor", "neighbour", "colleague", "relationship", "이웃", "친구", "동료", "사이"}},
	{types.EntryEvent, []string{"met ", "visited", "happened", "came by", "meeting", "appointment", "만났", "찾아왔", "다녀왔", "갔다", "있었다"}},
}

var emotionCues = cueTable{
	{"angry", []string{"angry", "furious", "annoyed", "irritated", "화가", "화났", "짜증", "열받"}},
	{"sad", []string{"sad", "upset", "disappointed", "속상", "슬프", "슬펐", "우울"}},
	{"anxious", []string{"worried", "anxious", "nervous", "afraid", "걱정", "불안", "초조"}},
	{"happy", []string{"happy", "glad", "excited", "delighted", "기쁘", "기뻤", "행복", "신나"}},
	{"grateful", []string{"grateful", "thankful", "appreciate", "고맙", "감사"}},
	{"relieved", []string{"relieved", "finally over", "다행", "안심"}},
}

var domainCues = cueTable{
	{"home", []string{"garden", "yard", "lawn", "house", "neighbor", "neighbour", "잔디", "마당", "이웃", "집"}},
	{"work", []string{"meeting", "project", "client", "deadline", "office", "회의", "프로젝트", "회사", "업무", "고객"}},
	{"health", []string{"doctor", "hospital", "exercise", "sleep", "병원", "운동", "건강", "약"}},
	{"finance", []string{"money", "payment", "invoice", "bank", "budget", "돈", "결제", "은행", "예산"}},
	{"legal", []string{"lawyer", "court", "lawsuit", "contract", "변호사", "소송", "법원", "계약"}},
	{"family", []string{"mom", "dad", "wife", "husband", "kids", "엄마", "아빠", "가족", "아이들"}},
	{"tech", []string{"code", "golang", "server", "bug", "deploy", "코드", "서버", "버그", "배포"}},
}

var statusCues = cueTable{
	{string(types.StatusResolved), []string{"resolved", "settled", "fixed", "sorted out", "해결", "합의", "마무리"}},
	{string(types.StatusArchived), []string{"archived", "no longer relevant", "보관"}},
}

var (
	urgencyCues = []string{"urgent", "asap", "important", "critical", "deadline", "immediately", "긴급", "중요", "급하", "당장"}
	minorCues   = []string{"minor", "trivial", "not important", "fyi", "사소", "별일 아니"}
)

// temporalCues maps relative expressions to a day offset from Input.Now.
var temporalCues = []struct {
	cue    string
	offset int
}{
	{"the day before yesterday", -2},
	{"그저께", -2},
	{"그제", -2},
	{"yesterday", -1},
	{"어젯밤", -1},
	{"어제", -1},
	{"last week", -7},
	{"지난주", -7},
	{"지난 주", -7},
	{"tomorrow", 1},
	{"내일", 1},
	{"next week", 7},
	{"다음주", 7},
	{"다음 주", 7},
	{"this morning", 0},
	{"tonight", 0},
	{"today", 0},
	{"오늘", 0},
}

var (
	// honorificRe finds Korean names with an honorific suffix. The leading
	// group stands in for a word boundary.
	honorificRe = regexp.MustCompile(`(?:^|[^가-힣])([가-힣]{1,4}(?:선생님|사장님|씨|님))`)

	handleRe = regexp.MustCompile(`(?:^|[^\w@])@([A-Za-z0-9_][A-Za-z0-9_.-]{1,30})`)

	socialVerbRe = regexp.MustCompile(`\b(?:[Mm]et|[Ww]ith|[Tt]old|[Aa]sked|[Cc]alled|[Ee]mailed|[Tt]exted|[Vv]isited)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`)

	// identifierRe reads "(neighbor, 40s)" directly after a name.
	identifierRe = regexp.MustCompile(`^\s*\(([^()\n]{1,80})\)`)

	caseColonRe = regexp.MustCompile(`(?i)\bcase\s*:\s*([^\n,.;()]+)`)
	caseHashRe  = regexp.MustCompile(`(?i)\bcase\s*#\s*([\p{L}\p{N}_-]+)`)
	caseKoRe    = regexp.MustCompile(`([가-힣A-Za-z0-9]+)\s?(분쟁|사건|소송|문제)`)

	placeEnRe = regexp.MustCompile(`(?i)\b(?:at|in)\s+the\s+([a-z][a-z-]*(?:\s+[a-z][a-z-]*)?)`)
	placeKoRe = regexp.MustCompile(`([가-힣A-Za-z0-9]+)에서`)

	isoDateRe = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
)

// notPeople are words that carry an honorific-like ending or follow a
// social verb without naming anyone.
var notPeople = map[string]bool{
	"날씨": true, "솜씨": true, "말씨": true, "마음씨": true, "글씨": true, "불씨": true, "꽃씨": true,
	"손님": true, "고객님": true, "하느님": true, "하나님": true, "부처님": true, "선생님": true, "사장님": true,
	"The": true, "A": true, "An": true, "My": true, "Our": true, "Your": true, "His": true, "Her": true,
	"Their": true, "Me": true, "Him": true, "Them": true, "Us": true, "It": true, "This": true, "That": true,
	"Today": true, "Tomorrow": true, "Yesterday": true,
	"Monday": true, "Tuesday": true, "Wednesday": true, "Thursday": true, "Friday": true, "Saturday": true, "Sunday": true,
	"January": true, "February": true, "March": true, "April": true, "May": true, "June": true, "July": true,
	"August": true, "September": true, "October": true, "November": true, "December": true,
}

// notPlaces are "in the X" phrases that name a time or manner, not a place.
var notPlaces = map[string]bool{
	"morning": true, "afternoon": true, "evening": true, "night": true, "end": true, "meantime": true,
	"past": true, "future": true, "beginning": true, "middle": true, "way": true, "moment": true,
	"first": true, "last": true, "same": true, "long": true,
}

// placeTrailers end a two-word English place early ("the garden and" → "garden").
var placeTrailers = map[string]bool{
	"and": true, "or": true, "with": true, "to": true, "for": true, "on": true, "because": true,
	"but": true, "when": true, "while": true, "after": true, "before": true, "again": true, "today": true,
	"yesterday": true, "this": true, "that": true, "of": true,
}

// notKoPlaces are X에서 phrases that are not places.
var notKoPlaces = map[string]bool{
	"어디": true, "중": true, "가운데": true, "사이": true, "입장": true, "측면": true,
}
