package textutil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scrypster/memento-graph/internal/textutil"
)

func TestNormalize_ComposesHangul(t *testing.T) {
	decomposed := "민수" // 민수 as conjoining jamo
	assert.Equal(t, "민수", textutil.Normalize(decomposed))
	assert.Equal(t, "a b", textutil.Normalize("  a \t\n b "))
}

func TestNormalizeText_KeepsLines(t *testing.T) {
	decomposed := "\u1106\u1175\u11ab\u1109\u116e"
	assert.Equal(t, "# 민수\n\n- a  b", textutil.NormalizeText("\n  # "+decomposed+"\r\n\r\n- a  b \n\n"))
}

func TestFoldAndEqualFold(t *testing.T) {
	assert.True(t, textutil.EqualFold("Person A", "person a"))
	assert.True(t, textutil.EqualFold("Straße", "STRASSE"))
	assert.False(t, textutil.EqualFold("Alice", "Alicia"))
	assert.True(t, textutil.ContainsFold("Met ALICE today", "alice"))
}

func TestLinkKey(t *testing.T) {
	cases := map[string]string{
		"[[민수씨]]":               "민수씨",
		"notes/People/민수씨.md":   "민수씨",
		"Garden Dispute|the row": "garden dispute",
		"Project X#Decisions":    "project x",
		"memory/2026-10-15.md":   "2026-10-15",
		"":                       "",
	}
	for in, want := range cases {
		assert.Equal(t, want, textutil.LinkKey(in), in)
	}
}

func TestUniqueFoldAndKeys(t *testing.T) {
	assert.Equal(t, []string{"Garden", "home"}, textutil.UniqueFold([]string{"Garden", " garden ", "home", ""}))
	assert.Equal(t, []string{"a", "b"}, textutil.Keys([]string{"A", "a", "B", " "}, textutil.Fold))
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "short text", textutil.Snippet("short\n text", 50))
	assert.Equal(t, "잔디밭…", textutil.Snippet("잔디밭 분쟁", 3))
}
