package upstream

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karthikvettiyath/Ai-Home-Decor/internal/design"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/providers"
	"github.com/karthikvettiyath/Ai-Home-Decor/internal/providers/providertest"
)

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt("Scandinavian loft")
	assert.True(t, strings.HasPrefix(p, "\nYou are an expert interior designer.\n"))
	assert.Contains(t, p, "User request:\n\"Scandinavian loft\"\n")
	assert.Contains(t, p, "Return STRICT JSON ONLY.\nNo markdown.\nNo backticks.")
	assert.Contains(t, p, `"colorPalette": ["Color + hex"],`)
	assert.True(t, strings.HasSuffix(p, "}\n"))
}

func TestDecodeImage(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G'}
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)

	part, ok, err := DecodeImage(uri)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "image/png", part.MIMEType)
	assert.Equal(t, raw, part.Data)

	_, ok, err = DecodeImage("https://example.com/room.jpg")
	require.NoError(t, err)
	assert.False(t, ok, "non data URI is ignored")

	_, ok, err = DecodeImage("data:text/plain;base64,aGk=")
	require.NoError(t, err)
	assert.False(t, ok, "non-image data URI is ignored")

	_, _, err = DecodeImage("data:image/png;base64,!!!")
	assert.Error(t, err)
}

func TestGateway_GenerateImageFirst(t *testing.T) {
	fake := &providertest.Fake{Text: "```json\n{\"concept\":\"Loft\"}\n```"}
	g := New(fake, "")
	assert.Equal(t, DefaultModel, g.Model())

	uri := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("jpeg"))
	data, err := g.Generate(context.Background(), "brighten it", uri)
	require.NoError(t, err)

	c, ok := data.Concept()
	require.True(t, ok)
	assert.Equal(t, "Loft", c.Concept)

	req := fake.LastGenerate()
	require.Len(t, req.Parts, 2)
	assert.Equal(t, "image/jpeg", req.Parts[0].MIMEType)
	assert.Equal(t, []byte("jpeg"), req.Parts[0].Data)
	assert.Contains(t, req.Parts[1].Text, `"brighten it"`)
	assert.Equal(t, DefaultModel, req.Model)
}

func TestGateway_GenerateRawText(t *testing.T) {
	fake := &providertest.Fake{Text: "Paint it sage green."}
	data, err := New(fake, "gemini-2.0-flash").Generate(context.Background(), "ideas", "")
	require.NoError(t, err)

	raw, ok := data.RawText()
	require.True(t, ok)
	assert.Equal(t, "Paint it sage green.", raw)
	assert.Len(t, fake.LastGenerate().Parts, 1)
}

func TestGateway_GenerateErrorUnchanged(t *testing.T) {
	want := &providers.Error{Provider: "fake", StatusCode: 429, Message: "quota"}
	fake := &providertest.Fake{Err: want}

	_, err := New(fake, "").Generate(context.Background(), "ideas", "")
	assert.True(t, errors.Is(err, want))
	pe, ok := providers.AsError(err)
	require.True(t, ok)
	assert.Same(t, want, pe)
}

func TestGateway_BadImageSkipsProvider(t *testing.T) {
	fake := &providertest.Fake{Text: "{}"}
	_, err := New(fake, "").Generate(context.Background(), "x", "data:image/png;base64,@@@")
	assert.Error(t, err)
	assert.Zero(t, fake.GenerateCalls())
}

func TestGateway_ChatSeedsAndMapsRoles(t *testing.T) {
	fake := &providertest.Fake{Text: "Try terracotta."}
	reply, err := New(fake, "m").Chat(context.Background(), "what color?", []design.ChatTurn{
		{Role: "user", Text: "hi"},
		{Role: "ai", Text: "hello"},
		{Role: "assistant", Text: "not mapped"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Try terracotta.", reply)

	req := fake.LastChat()
	assert.Equal(t, "what color?", req.Message)
	require.Len(t, req.History, 5)
	assert.Equal(t, providers.RoleUser, req.History[0].Role)
	assert.Contains(t, req.History[0].Text, "expert interior design assistant")
	assert.Equal(t, providers.RoleModel, req.History[1].Role)
	assert.Equal(t, providers.RoleUser, req.History[2].Role)
	assert.Equal(t, providers.RoleModel, req.History[3].Role)
	assert.Equal(t, providers.RoleUser, req.History[4].Role, "only \"ai\" maps to the model role")
}
