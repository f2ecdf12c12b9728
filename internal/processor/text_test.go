package processor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLineBreaks(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"paragraphs survive", "Hello\nWorld\n\nNext paragraph", "Hello World\n\nNext paragraph"},
		{"crlf", "one\r\ntwo", "one two"},
		{"bare cr", "one\rtwo", "one two"},
		{"lf cr pair", "one\n\rtwo", "one two"},
		{"double crlf kept", "one\r\n\r\ntwo", "one\r\n\r\ntwo"},
		{"triple lf kept", "a\n\n\nb", "a\n\n\nb"},
		{"leading and trailing", "\nmiddle\n", " middle "},
		{"no breaks", "plain text", "plain text"},
		{"empty", "", ""},
		{"several singles", "a\nb\nc", "a b c"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeLineBreaks(tc.in))
		})
	}
}

func TestBuildOCRText(t *testing.T) {
	text := BuildOCRText(
		[]string{"page10", "page2", "page0", "page1"},
		map[string]string{"page0": "A\nB", "page1": "C", "page2": "", "page10": "K"},
	)

	assert.Equal(t, []string{"page0", "page1", "page2", "page10"}, text.Keys)
	assert.Equal(t, "A\nB\n\n\nC\n\n\n\n\n\nK\n\n\n", text.FullText)
	assert.Equal(t, "A B", text.Pages["page0"])
	assert.Equal(t, "A\nB", text.Raw["page0"])

	sources := text.NERSources()
	require.Len(t, sources, 4)
	assert.Equal(t, map[string]string{"input.txt": ""}, sources["page2"])
}

func TestBuildOCRTextMissingPageIsEmpty(t *testing.T) {
	text := BuildOCRText([]string{"page0", "page1"}, map[string]string{"page0": "only"})
	assert.Equal(t, "only\n\n\n\n\n\n", text.FullText)
	assert.Contains(t, text.NERSources(), "page1")
}

func TestSortPageKeys(t *testing.T) {
	keys := []string{"page11", "job", "page2", "page1", "pageX", "page0"}
	SortPageKeys(keys)
	assert.Equal(t, []string{"page0", "page1", "page2", "page11", "job", "pageX"}, keys)
}

func TestEntityUnmarshal(t *testing.T) {
	var entities []Entity
	require.NoError(t, json.Unmarshal([]byte(`[
		["Alice", "PERSON"],
		{"entity": "Paris", "category": "LOC"},
		{"text": "Acme", "label": "ORG"}
	]`), &entities))

	assert.Equal(t, []Entity{{"Alice", "PERSON"}, {"Paris", "LOC"}, {"Acme", "ORG"}}, entities)

	var bad Entity
	assert.Error(t, json.Unmarshal([]byte(`["only-one"]`), &bad))
	assert.Error(t, json.Unmarshal([]byte(`42`), &bad))
}

func TestResultJSONKeepsSlotPresence(t *testing.T) {
	lang := "eng"
	in := &Result{RunID: "r", Language: &lang, Entities: []Entity{}}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Result
	require.NoError(t, json.Unmarshal(data, &out))
	require.NotNil(t, out.Language)
	assert.Nil(t, out.Summary)
	assert.False(t, out.HasTopics())
	assert.NotNil(t, out.Entities, "an empty entity list is still a filled slot")

	in.Entities = nil
	data, err = json.Marshal(in)
	require.NoError(t, err)
	out = Result{}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Nil(t, out.Entities)
}
