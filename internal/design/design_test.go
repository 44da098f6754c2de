package design

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const conceptJSON = `{"concept":"Calm Loft","colorPalette":["Sand #C2B280"],"furniture":["Sofa"],"lighting":"Warm","layout":"Open","decor":"Plants","image":"https://img/1.png"}`

func TestParse_PlainJSON(t *testing.T) {
	d := Parse(conceptJSON)
	require.Equal(t, KindConcept, d.Kind())

	c, ok := d.Concept()
	require.True(t, ok)
	assert.Equal(t, "Calm Loft", c.Concept)
	assert.Equal(t, []string{"Sand #C2B280"}, c.ColorPalette)
	assert.Equal(t, "https://img/1.png", c.Image)
}

func TestParse_FencedMatchesUnfenced(t *testing.T) {
	fenced := "```json\n" + conceptJSON + "\n```"
	assert.Equal(t, Parse(conceptJSON), Parse(fenced))

	bare := "```\n" + conceptJSON + "\n```"
	assert.Equal(t, Parse(conceptJSON), Parse(bare))
}

func TestParse_NonJSONBecomesRawText(t *testing.T) {
	text := "Here is a lovely idea: paint it blue."
	d := Parse(text)

	require.Equal(t, KindRawText, d.Kind())
	raw, ok := d.RawText()
	require.True(t, ok)
	assert.Equal(t, text, raw)

	_, ok = d.Concept()
	assert.False(t, ok)
}

func TestParse_WrongShapeAndTrailingGarbage(t *testing.T) {
	for _, text := range []string{
		`["not", "an", "object"]`,
		`"just a string"`,
		`42`,
		`null`,
		"```json\nnull\n```",
		`{"concept":"X"}}`,
		conceptJSON + " and some chatter",
	} {
		d := Parse(text)
		raw, ok := d.RawText()
		assert.True(t, ok, "expected raw text for %q", text)
		assert.Equal(t, text, raw, "raw text keeps the original input")
	}
}

func TestParse_LenientFieldTypes(t *testing.T) {
	d := Parse(`{"concept":"Nook","colorPalette":"Sand #C2B280, Sage #9CAF88","furniture":["Chair",2],"lighting":3,"layout":null,"decor":{"plants":true}}`)
	c, ok := d.Concept()
	require.True(t, ok, "a valid object with odd field types stays a concept")

	assert.Equal(t, "Nook", c.Concept)
	assert.Equal(t, []string{"Sand #C2B280", "Sage #9CAF88"}, c.ColorPalette)
	assert.Equal(t, []string{"Chair", "2"}, c.Furniture)
	assert.Equal(t, "3", c.Lighting)
	assert.Empty(t, c.Layout)
	assert.Equal(t, `{"plants":true}`, c.Decor)
	assert.Nil(t, c.Extra)
}

func TestParse_KeepsUnknownFields(t *testing.T) {
	text := `{"concept":"Nook","colorPalette":[],"furniture":[],"lighting":"","layout":"","decor":"","image":"","budget":1200,"style":{"era":"mid-century"}}`
	d := Parse(text)
	c, ok := d.Concept()
	require.True(t, ok)
	require.Len(t, c.Extra, 2)

	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, text, string(b))

	p := &Payload{Source: "gemini-1.5-flash", Data: d}
	enc, err := p.Encode()
	require.NoError(t, err)
	got, err := DecodePayload(enc)
	require.NoError(t, err)
	assert.Equal(t, d, got.Data)
}

func TestData_ConceptWithRawTextFieldStaysConcept(t *testing.T) {
	d := Parse(`{"concept":"Nook","rawText":"aside"}`)
	b, err := json.Marshal(d)
	require.NoError(t, err)

	var back Data
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, KindConcept, back.Kind())
}

func TestPayload_EncodeDecodeKeepsVariant(t *testing.T) {
	concept := &Payload{Source: "gemini-1.5-flash", Data: Parse(conceptJSON)}
	raw := &Payload{Source: "gemini-1.5-flash", Data: RawTextData("free text")}

	for _, p := range []*Payload{concept, raw} {
		b, err := p.Encode()
		require.NoError(t, err)

		got, err := DecodePayload(b)
		require.NoError(t, err)
		assert.Equal(t, p.Source, got.Source)
		assert.Equal(t, p.Data, got.Data)
		assert.Nil(t, got.Meta)
	}
}

func TestDecodePayload_MissingData(t *testing.T) {
	_, err := DecodePayload([]byte(`{"source":"fallback"}`))
	assert.Error(t, err)
}

func TestData_MarshalEmpty(t *testing.T) {
	_, err := json.Marshal(Data{})
	assert.Error(t, err)
}

func TestMeta_Shapes(t *testing.T) {
	cases := []struct {
		name string
		meta *Meta
		want string
	}{
		{
			name: "skipped without cooldown",
			meta: SkippedMeta(false, "gemini-1.5-flash", false, nil),
			want: `{"gemini":{"enabled":false,"model":"gemini-1.5-flash","cooldown":false,"retryAfterSeconds":null}}`,
		},
		{
			name: "skipped while cooling down",
			meta: SkippedMeta(true, "gemini-1.5-flash", true, intPtr(12)),
			want: `{"gemini":{"enabled":true,"model":"gemini-1.5-flash","cooldown":true,"retryAfterSeconds":12}}`,
		},
		{
			name: "rate limited",
			meta: RateLimitedMeta("gemini-1.5-flash", 60),
			want: `{"gemini":{"enabled":true,"model":"gemini-1.5-flash","retryAfterSeconds":60,"errorCode":"GEMINI_RATE_LIMITED"}}`,
		},
		{
			name: "generic error",
			meta: ErrorMeta("gemini-1.5-flash"),
			want: `{"gemini":{"enabled":true,"model":"gemini-1.5-flash","errorCode":"GEMINI_ERROR"}}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := json.Marshal(tc.meta)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(b))

			// Round-trip through a cache must not change the encoding.
			var back Meta
			require.NoError(t, json.Unmarshal(b, &back))
			b2, err := json.Marshal(&back)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(b2))
		})
	}
}

func TestConcept_CloneIsDeep(t *testing.T) {
	orig := Concept{
		ColorPalette: []string{"a"},
		Furniture:    []string{"b"},
		Extra:        map[string]json.RawMessage{"budget": json.RawMessage(`1`)},
	}
	cp := orig.Clone()
	cp.ColorPalette[0] = "changed"
	cp.Furniture[0] = "changed"
	cp.Extra["budget"] = json.RawMessage(`2`)
	assert.Equal(t, "a", orig.ColorPalette[0])
	assert.Equal(t, "b", orig.Furniture[0])
	assert.Equal(t, json.RawMessage(`1`), orig.Extra["budget"])
}

func intPtr(v int) *int { return &v }
